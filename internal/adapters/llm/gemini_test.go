package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/PabloGalante/clevercompass/internal/attachment"
	"github.com/PabloGalante/clevercompass/internal/domain"
)

type fakeModels struct {
	calls    int
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig

	res *genai.GenerateContentResponse
	err error
}

func (f *fakeModels) GenerateContent(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.contents = contents
	f.config = config
	return f.res, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  string(genai.RoleModel),
				Parts: []*genai.Part{{Text: text}},
			},
		}},
	}
}

func TestAskMathQuestion(t *testing.T) {
	fake := &fakeModels{res: textResponse("2 + 2 = 4")}
	tutor := newGeminiTutor(fake, "")

	reply, err := tutor.Ask(context.Background(), domain.AskRequest{
		Text:    "What is 2+2?",
		Subject: domain.SubjectMath,
	})
	require.NoError(t, err)
	assert.Equal(t, "2 + 2 = 4", reply)

	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, DefaultModel, fake.model)

	require.Len(t, fake.contents, 3)
	assert.Equal(t, string(genai.RoleUser), fake.contents[0].Role)
	assert.Equal(t, primingTurn, fake.contents[0].Parts[0].Text)
	assert.Equal(t, string(genai.RoleModel), fake.contents[1].Role)
	assert.Equal(t, mathPrompt, fake.contents[1].Parts[0].Text)

	last := fake.contents[2]
	assert.Equal(t, string(genai.RoleUser), last.Role)
	require.Len(t, last.Parts, 1)
	assert.Equal(t, "What is 2+2?", last.Parts[0].Text)
	assert.Nil(t, last.Parts[0].InlineData)
}

func TestAskUsesFixedGenerationConfig(t *testing.T) {
	fake := &fakeModels{res: textResponse("ok")}
	tutor := newGeminiTutor(fake, "gemini-test")

	_, err := tutor.Ask(context.Background(), domain.AskRequest{Text: "hi", Subject: domain.SubjectPhysics})
	require.NoError(t, err)

	cfg := fake.config
	require.NotNil(t, cfg)
	assert.Equal(t, float32(0.4), *cfg.Temperature)
	assert.Equal(t, float32(0.95), *cfg.TopP)
	assert.Equal(t, float32(40), *cfg.TopK)

	require.Len(t, cfg.SafetySettings, 4)
	seen := map[genai.HarmCategory]bool{}
	for _, s := range cfg.SafetySettings {
		assert.Equal(t, genai.HarmBlockThresholdBlockMediumAndAbove, s.Threshold)
		seen[s.Category] = true
	}
	for _, c := range blockedCategories {
		assert.True(t, seen[c], "missing category %s", c)
	}
	assert.Equal(t, "gemini-test", fake.model)
}

func TestAskImageOnlySendsInlineData(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}
	fake := &fakeModels{res: textResponse("I see a triangle")}
	tutor := newGeminiTutor(fake, "")

	_, err := tutor.Ask(context.Background(), domain.AskRequest{
		Text:    "",
		Subject: domain.SubjectMath,
		Image:   attachment.Format("image/png", raw),
	})
	require.NoError(t, err)

	parts := fake.contents[2].Parts
	require.Len(t, parts, 1)
	assert.Empty(t, parts[0].Text)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	assert.Equal(t, raw, parts[0].InlineData.Data)
}

func TestAskTextAndImage(t *testing.T) {
	fake := &fakeModels{res: textResponse("ok")}
	tutor := newGeminiTutor(fake, "")

	_, err := tutor.Ask(context.Background(), domain.AskRequest{
		Text:    "balance this",
		Subject: domain.SubjectChemistry,
		Image:   attachment.Format("image/jpeg", []byte{1, 2}),
	})
	require.NoError(t, err)

	parts := fake.contents[2].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "balance this", parts[0].Text)
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
	assert.Equal(t, chemistryPrompt, fake.contents[1].Parts[0].Text)
}

func TestAskRejectsEmptyRequestWithoutCallingProvider(t *testing.T) {
	fake := &fakeModels{res: textResponse("ok")}
	tutor := newGeminiTutor(fake, "")

	_, err := tutor.Ask(context.Background(), domain.AskRequest{Text: "   ", Subject: domain.SubjectMath})
	require.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Zero(t, fake.calls)
}

func TestAskWrapsProviderErrors(t *testing.T) {
	fake := &fakeModels{err: errors.New("quota exceeded for project secret-123")}
	tutor := newGeminiTutor(fake, "")

	_, err := tutor.Ask(context.Background(), domain.AskRequest{Text: "hi", Subject: domain.SubjectMath})
	require.ErrorIs(t, err, domain.ErrProvider)
	assert.NotContains(t, err.Error(), "secret-123")

	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Detail(), "quota exceeded")
}

func TestAskTreatsSafetyBlocksAsProviderErrors(t *testing.T) {
	cases := map[string]*genai.GenerateContentResponse{
		"nil response": nil,
		"prompt blocked": {
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		},
		"candidate blocked": {
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		},
	}

	for name, res := range cases {
		t.Run(name, func(t *testing.T) {
			tutor := newGeminiTutor(&fakeModels{res: res}, "")
			_, err := tutor.Ask(context.Background(), domain.AskRequest{Text: "hi", Subject: domain.SubjectMath})
			require.ErrorIs(t, err, domain.ErrProvider)
		})
	}
}

func TestAskEmptyTextIsNotAnError(t *testing.T) {
	tutor := newGeminiTutor(&fakeModels{res: &genai.GenerateContentResponse{}}, "")

	reply, err := tutor.Ask(context.Background(), domain.AskRequest{Text: "hi", Subject: domain.SubjectMath})
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestSystemPromptCoversEverySubject(t *testing.T) {
	for _, s := range append(domain.Subjects(), domain.SubjectGeneral) {
		assert.NotEmpty(t, systemPrompts[s], "no prompt for %s", s)
	}
	assert.Equal(t, generalPrompt, SystemPrompt(domain.Subject("History")))
	assert.Equal(t, physicsPrompt, SystemPrompt(domain.SubjectPhysics))
}

func TestNewGeminiTutorValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := NewGeminiTutor(ctx, GeminiConfig{Backend: BackendGemini})
	assert.Error(t, err)

	_, err = NewGeminiTutor(ctx, GeminiConfig{Backend: BackendVertex, Project: "p"})
	assert.Error(t, err)

	_, err = NewGeminiTutor(ctx, GeminiConfig{Backend: "openai", APIKey: "k"})
	assert.Error(t, err)
}

func TestMockTutor(t *testing.T) {
	m := NewMockTutor()

	reply, err := m.Ask(context.Background(), domain.AskRequest{Text: "What is 2+2?", Subject: domain.SubjectMath})
	require.NoError(t, err)
	assert.Contains(t, reply, "What is 2+2?")

	_, err = m.Ask(context.Background(), domain.AskRequest{Subject: domain.SubjectMath})
	require.ErrorIs(t, err, domain.ErrEmptyMessage)
}
