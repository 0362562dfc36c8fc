package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/makobot/mako/internal/config"
)

const (
	summaryMaxTokens   = 300
	translateMaxTokens = 800
	describeMaxTokens  = 300
)

// ErrEmptyResponse is returned when the API answers without content.
var ErrEmptyResponse = errors.New("provider: empty response")

// OpenAIProvider talks to an OpenAI-compatible API through openai-go.
type OpenAIProvider struct {
	client openai.Client
	cfg    config.OpenAIConfig
}

// NewOpenAIProvider creates a provider from cfg. Extra request options are
// appended after the configured key and base URL.
func NewOpenAIProvider(cfg config.OpenAIConfig, opts ...option.RequestOption) *OpenAIProvider {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	return &OpenAIProvider{client: openai.NewClient(clientOpts...), cfg: cfg}
}

// DefaultModel returns the configured chat model.
func (p *OpenAIProvider) DefaultModel() string { return p.cfg.ChatModel }

// Chat sends a completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.ChatModel
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("provider: chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider: chat: %w", ErrEmptyResponse)
	}
	choice := resp.Choices[0]
	return &ChatResponse{
		Content:      strings.TrimSpace(choice.Message.Content),
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (p *OpenAIProvider) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	resp, err := p.Chat(ctx, &ChatRequest{
		Messages:  []Message{{Role: RoleSystem, Content: system}, {Role: RoleUser, Content: user}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Summarize condenses page text into a short Chinese digest.
func (p *OpenAIProvider) Summarize(ctx context.Context, text string) (string, error) {
	return p.complete(ctx, "你是网页摘要助手，用不超过120字的中文概括要点。", text, summaryMaxTokens)
}

// Translate translates text into targetLang (EN, ZH, JA, ...).
func (p *OpenAIProvider) Translate(ctx context.Context, text, targetLang string) (string, error) {
	system := fmt.Sprintf("你是翻译助手，把用户内容翻译成语言代码 %s 对应的语言，只输出译文。", targetLang)
	return p.complete(ctx, system, text, translateMaxTokens)
}

// DescribeImage asks the vision model what the image shows.
func (p *OpenAIProvider) DescribeImage(ctx context.Context, imageURL string) (string, error) {
	user := openai.ChatCompletionUserMessageParam{
		Content: openai.ChatCompletionUserMessageParamContentUnion{
			OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("请用一两句中文描述这张图片的主要内容。"),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: imageURL}),
			},
		},
	}
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(p.cfg.VisionModel),
		Messages:  []openai.ChatCompletionMessageParamUnion{{OfUser: &user}},
		MaxTokens: param.NewOpt(int64(describeMaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("provider: describe image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider: describe image: %w", ErrEmptyResponse)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateImage returns the URL of an image drawn from prompt.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(p.cfg.ImageModel),
		N:              param.NewOpt(int64(1)),
		Size:           openai.ImageGenerateParamsSize(p.cfg.ImageSize),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("provider: generate image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("provider: generate image: %w", ErrEmptyResponse)
	}
	return resp.Data[0].URL, nil
}

// Speech synthesises text and returns mp3 audio.
func (p *OpenAIProvider) Speech(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(p.cfg.TTSModel),
		Voice:          openai.AudioSpeechNewParamsVoice(p.cfg.TTSVoice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: speech: %w", err)
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: read speech: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("provider: speech: %w", ErrEmptyResponse)
	}
	return audio, nil
}

// Transcribe turns audio into text.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, "audio/mpeg"),
		Model: openai.AudioModel(p.cfg.STTModel),
	})
	if err != nil {
		return "", fmt.Errorf("provider: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Embed returns the embedding vector for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("provider: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("provider: embed: %w", ErrEmptyResponse)
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
