package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/assets"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/imageprep"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/jsonutil"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Analyzer produces the analysis payload for an uploaded image.
type Analyzer interface {
	Analyze(ctx context.Context, img *imageprep.Image) (json.RawMessage, error)
}

// fixtureAnalyzer returns the embedded sample menu for every image.
type fixtureAnalyzer struct{}

func (fixtureAnalyzer) Analyze(ctx context.Context, img *imageprep.Image) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return json.RawMessage(assets.SampleMenuResult), nil
}

type geminiAnalyzer struct {
	client *genai.Client
	model  string
}

func newGeminiAnalyzer(ctx context.Context, apiKey, model string) (*geminiAnalyzer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiAnalyzer{client: client, model: model}, nil
}

func (g *geminiAnalyzer) Analyze(ctx context.Context, img *imageprep.Image) (json.RawMessage, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.ScanSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
	}

	prompt := assets.RenderScanRequest(assets.ScanRequestData{
		Filename: img.Filename,
		Context:  captureContext(img),
	})
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: img.ContentType, Data: img.Data}},
		{Text: prompt},
	}

	log.Debug().
		Str("model", g.model).
		Str("filename", img.Filename).
		Int("image_bytes", len(img.Data)).
		Msg("Starting Gemini API call for scan analysis")

	callStart := time.Now()
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	duration := time.Since(callStart)
	if err != nil {
		log.Error().Err(err).Dur("duration", duration).Msg("Failed to analyze image with Gemini")
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("received empty response from Gemini API")
	}

	text := resp.Text()
	log.Info().
		Dur("duration", duration).
		Int("response_length", len(text)).
		Msg("Gemini scan analysis received")

	raw, err := jsonutil.ExtractRaw(text)
	if err != nil {
		return nil, fmt.Errorf("could not read analysis: %w", err)
	}
	return raw, nil
}

// captureContext summarizes the image metadata worth giving the model.
func captureContext(img *imageprep.Image) string {
	var parts []string
	if img.CameraModel != "" {
		parts = append(parts, img.CameraModel)
	}
	if !img.CapturedAt.IsZero() {
		parts = append(parts, "taken "+img.CapturedAt.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}
