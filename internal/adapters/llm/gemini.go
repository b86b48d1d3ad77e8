package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/PabloGalante/clevercompass/internal/attachment"
	"github.com/PabloGalante/clevercompass/internal/domain"
	"github.com/PabloGalante/clevercompass/internal/observability"
)

const (
	BackendGemini = "gemini"
	BackendVertex = "vertex"

	DefaultModel = "gemini-2.5-flash"
)

// Fixed for every call.
const (
	temperature = float32(0.4)
	topP        = float32(0.95)
	topK        = float32(40)
)

var blockedCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// GeminiConfig carries the provider credential and location. It is passed
// in explicitly; nothing is read from the environment here.
type GeminiConfig struct {
	Backend  string // "gemini" (API key) or "vertex"
	APIKey   string
	Project  string
	Location string
	Model    string
}

// contentGenerator is the part of *genai.Models the tutor needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiTutor implements domain.Tutor on top of the Gemini API.
type GeminiTutor struct {
	models    contentGenerator
	modelName string
}

// NewGeminiTutor creates a Tutor backed by Gemini, either through the public
// API (API key) or through Vertex AI (project + location).
func NewGeminiTutor(ctx context.Context, cfg GeminiConfig) (*GeminiTutor, error) {
	cc := &genai.ClientConfig{}

	switch cfg.Backend {
	case BackendVertex:
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("vertex backend needs a project and a location")
		}
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	case BackendGemini, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini backend needs an API key")
		}
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	default:
		return nil, fmt.Errorf("unknown gemini backend %q", cfg.Backend)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return newGeminiTutor(client.Models, cfg.Model), nil
}

func newGeminiTutor(models contentGenerator, modelName string) *GeminiTutor {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &GeminiTutor{
		models:    models,
		modelName: modelName,
	}
}

// request is built fresh for every call and never mutated afterwards.
type request struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func buildRequest(model string, in domain.AskRequest) (request, error) {
	var parts []*genai.Part

	if text := strings.TrimSpace(in.Text); text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}

	if !in.Image.IsZero() {
		mimeType, data, err := attachment.Decode(in.Image)
		if err != nil {
			return request{}, err
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimeType))
	}

	if len(parts) == 0 {
		return request{}, domain.ErrEmptyMessage
	}

	contents := []*genai.Content{
		genai.NewContentFromText(primingTurn, genai.RoleUser),
		genai.NewContentFromText(SystemPrompt(in.Subject), genai.RoleModel),
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	temp, p, k := temperature, topP, topK
	safety := make([]*genai.SafetySetting, 0, len(blockedCategories))
	for _, c := range blockedCategories {
		safety = append(safety, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}

	return request{
		model:    model,
		contents: contents,
		config: &genai.GenerateContentConfig{
			Temperature:    &temp,
			TopP:           &p,
			TopK:           &k,
			SafetySettings: safety,
		},
	}, nil
}

// Ask implements domain.Tutor. Any provider failure comes back as a
// *domain.ProviderError; the caller never sees the raw SDK error text.
func (g *GeminiTutor) Ask(ctx context.Context, in domain.AskRequest) (string, error) {
	log := observability.LoggerFromContext(ctx).With(
		"subject", in.Subject,
		"model", g.modelName,
		"has_image", !in.Image.IsZero(),
	)

	req, err := buildRequest(g.modelName, in)
	if err != nil {
		log.Warn("invalid tutor request", "error", err)
		return "", err
	}

	res, err := g.models.GenerateContent(ctx, req.model, req.contents, req.config)
	if err != nil {
		log.Error("gemini generate content failed", "error", err)
		return "", &domain.ProviderError{Op: "gemini generate content", Cause: err}
	}

	if reason := blockReason(res); reason != "" {
		log.Warn("gemini response rejected", "reason", reason)
		return "", &domain.ProviderError{Op: "gemini response", Cause: errors.New(reason)}
	}

	// only the text, never the structs
	return res.Text(), nil
}

func blockReason(res *genai.GenerateContentResponse) string {
	if res == nil {
		return "empty response"
	}
	if fb := res.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "prompt blocked: " + string(fb.BlockReason)
	}
	if len(res.Candidates) > 0 && res.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "candidate blocked for safety"
	}
	return ""
}
