package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/martyniukyurii/KovchegBackend/models"
)

// Embedder computes the free-text similarity vector for a listing.
// Implementations may call external services; failures must be returned,
// never swallowed; the dedup engine degrades to signal-only matching.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder for the given model name.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(model),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data")
	}
	return resp.Data[0].Embedding, nil
}

// maxTextLen keeps the serialized listing under the endpoint's input limit.
const maxTextLen = 8000

// ListingText serializes a canonical listing into the text the embedding
// is computed from. The field order is fixed so identical listings always
// produce identical input.
func ListingText(l *models.CanonicalListing) string {
	var parts []string

	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}

	add("Назва", l.Title)
	add("Опис", l.Description)
	add("Тип", l.PropertyType)
	if l.Price.Amount > 0 {
		parts = append(parts, fmt.Sprintf("Ціна: %.0f %s", l.Price.Amount, l.Price.Currency))
	}
	if l.Features.Area > 0 {
		parts = append(parts, fmt.Sprintf("Площа: %.1f м²", l.Features.Area))
	}
	if l.Features.Bedrooms > 0 {
		parts = append(parts, fmt.Sprintf("Кімнат: %d", l.Features.Bedrooms))
	}
	add("Місто", l.Location.City)
	add("Адреса", l.Location.Address)
	if len(l.Features.Amenities) > 0 {
		n := len(l.Features.Amenities)
		if n > 10 {
			n = 10
		}
		add("Особливості", strings.Join(l.Features.Amenities[:n], ", "))
	}
	add("Телефон", l.ContactInfo.Phone)

	text := strings.Join(parts, " | ")
	if len(text) > maxTextLen {
		text = text[:maxTextLen]
	}
	return text
}
