package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"backcast/internal/config"
	"backcast/internal/indicator"
	"backcast/internal/market"
	"backcast/internal/strategy"
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options 控制模型策略的行为。
type Options struct {
	Params        indicator.Params
	MinConfidence float64
	MinWindow     int
}

// Strategy 调用大模型为每个步进给出决策。温度固定为 0，
// 但结果仍依赖远端模型，同一输入的可重复性无法保证。
type Strategy struct {
	model  string
	opts   Options
	logger *zap.Logger
	sdk    chatCompleter
}

var _ strategy.Strategy = (*Strategy)(nil)

// NewStrategy 使用给定配置创建基于 OpenAI 的策略。
func NewStrategy(cfg config.OpenAIConfig, opts Options, logger *zap.Logger) (*Strategy, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai: openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return newStrategy(openai.NewClientWithConfig(clientCfg), cfg.Model, opts, logger)
}

func newStrategy(sdk chatCompleter, model string, opts Options, logger *zap.Logger) (*Strategy, error) {
	if sdk == nil {
		return nil, errors.New("ai: chat client 不能为空")
	}
	if model == "" {
		return nil, errors.New("ai: openai model 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinWindow <= 0 {
		p := indicator.DefaultParams()
		opts.MinWindow = p.SlowPeriod
	}
	return &Strategy{
		model:  model,
		opts:   opts,
		logger: logger,
		sdk:    sdk,
	}, nil
}

// MinWindow 返回提示词所需的最少K线数。
func (s *Strategy) MinWindow() int {
	return s.opts.MinWindow
}

// Decide 实现 strategy.Strategy 接口。
func (s *Strategy) Decide(ctx context.Context, window []market.Candle, inPosition bool) (strategy.Decision, error) {
	prompt, err := BuildPrompt(window, inPosition, s.opts.Params)
	if err != nil {
		return strategy.Hold, err
	}

	response, err := s.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return strategy.Hold, fmt.Errorf("ai: 调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return strategy.Hold, errors.New("ai: OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return strategy.Hold, errors.New("ai: OpenAI 返回内容为空")
	}

	reply, err := parseReply(rawContent)
	if err != nil {
		s.logger.Debug("解析模型决策失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return strategy.Hold, err
	}
	if err := reply.Validate(); err != nil {
		return strategy.Hold, fmt.Errorf("ai: %w", err)
	}

	decision := reply.Decision(s.opts.MinConfidence)
	s.logger.Debug("AI 决策生成成功",
		zap.Time("timestamp", window[len(window)-1].Timestamp),
		zap.String("action", decision.String()),
		zap.Float64("confidence", reply.Confidence),
	)
	return decision, nil
}

func parseReply(content string) (Reply, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Reply{}, err
	}

	var reply Reply
	if err = json.Unmarshal(jsonPayload, &reply); err != nil {
		return Reply{}, fmt.Errorf("ai: 解析决策JSON失败: %w", err)
	}
	return reply, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("ai: 模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
