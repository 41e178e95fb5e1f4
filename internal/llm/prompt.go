package llm

// CarInstruction is the fixed instruction sent with every image.
const CarInstruction = `You are an image-understanding assistant. Identify the car make and model.
Respond with JSON only: { "make": "...", "model": "..." }`
