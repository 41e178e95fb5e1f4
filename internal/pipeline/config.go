package pipeline

import (
	"log/slog"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/imageprep"
	"github.com/joseph-ayodele/car-analyzer/internal/llm/openai"
)

// NewFromConfig wires the normalizer and the OpenAI client from application config.
func NewFromConfig(cfg *common.Config, logger *slog.Logger) *Analyzer {
	norm := imageprep.NewNormalizer(imageprep.Config{
		MaxDimension:  cfg.Image.MaxDimension,
		JPEGQuality:   cfg.Image.JPEGQuality,
		HeicConverter: cfg.Image.HeicConverter,
	}, logger)
	client := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		ImageDetail: cfg.LLM.ImageDetail,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	return NewAnalyzer(norm, client, logger)
}
