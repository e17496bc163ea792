package strategy

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

	"simtrader/internal/config"
	"simtrader/internal/domain"
	"simtrader/internal/indicator"
)

// aiDecision 表示大模型返回的交易指令。
type aiDecision struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
}

func (d aiDecision) validate() error {
	switch strings.ToUpper(strings.TrimSpace(d.Action)) {
	case "BUY", "SELL", "HOLD":
	default:
		return fmt.Errorf("action 字段取值非法: %s", d.Action)
	}
	if strings.TrimSpace(d.Reasoning) == "" {
		return errors.New("reasoning 不能为空")
	}
	return nil
}

// AIAdvisor 将每根K线的行情摘要交给大模型，由模型给出买卖指令。
// 回测结果不可复现，仅用于策略探索，不适合作为基准对比。
type AIAdvisor struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client

	lookback      int
	decisionEvery int
	barCount      int
	series        *indicator.Series
}

// NewAIAdvisor 创建 AI 顾问策略。
func NewAIAdvisor(cfg config.OpenAIConfig, logger *zap.Logger) (*AIAdvisor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("strategy: openai api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("strategy: openai model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	return &AIAdvisor{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkCfg),
	}, nil
}

// Name 实现 Strategy。
func (s *AIAdvisor) Name() string {
	return "ai"
}

// Initialize 实现 Strategy。
func (s *AIAdvisor) Initialize(params map[string]any) error {
	s.lookback = intParam(params, "lookback", 30)
	s.decisionEvery = intParam(params, "decision_every", 24)
	if s.lookback <= 0 {
		return errors.New("strategy: lookback 必须大于0")
	}
	if s.decisionEvery <= 0 {
		return errors.New("strategy: decision_every 必须大于0")
	}
	s.series = indicator.NewSeries(s.lookback * 4)
	s.barCount = 0
	return nil
}

// OnBar 实现 Strategy。
func (s *AIAdvisor) OnBar(ctx context.Context, bar domain.Bar, state State) ([]domain.Signal, error) {
	if s.series == nil {
		return nil, errors.New("strategy: ai 未初始化")
	}

	s.series.Append(bar)
	s.barCount++
	if s.series.Len() < s.lookback || s.barCount%s.decisionEvery != 0 {
		return nil, nil
	}

	decision, err := s.decide(ctx, bar, state)
	if err != nil {
		return nil, err
	}

	switch strings.ToUpper(strings.TrimSpace(decision.Action)) {
	case "BUY":
		if state.Position.Quantity > 0 {
			return nil, nil
		}
		return []domain.Signal{{
			InstrumentID: bar.InstrumentID,
			Side:         domain.OrderSideBuy,
			OrderType:    domain.OrderTypeMarket,
			Reason:       "ai:" + decision.Reasoning,
		}}, nil
	case "SELL":
		if state.Position.Quantity <= 0 {
			return nil, nil
		}
		return []domain.Signal{{
			InstrumentID: bar.InstrumentID,
			Side:         domain.OrderSideSell,
			Quantity:     state.Position.Quantity,
			OrderType:    domain.OrderTypeMarket,
			Reason:       "ai:" + decision.Reasoning,
		}}, nil
	default:
		return nil, nil
	}
}

func (s *AIAdvisor) decide(ctx context.Context, bar domain.Bar, state State) (aiDecision, error) {
	prompt := s.buildPrompt(bar, state)

	response, err := s.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		s.logger.Error("调用OpenAI失败", zap.Error(err))
		return aiDecision{}, fmt.Errorf("strategy: 调用OpenAI失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return aiDecision{}, errors.New("strategy: OpenAI 返回结果为空")
	}

	raw := strings.TrimSpace(response.Choices[0].Message.Content)
	payload, err := extractJSON(raw)
	if err != nil {
		return aiDecision{}, err
	}

	var decision aiDecision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return aiDecision{}, fmt.Errorf("strategy: 解析决策JSON失败: %w", err)
	}
	if err := decision.validate(); err != nil {
		return aiDecision{}, err
	}

	s.logger.Debug("AI 决策生成成功",
		zap.String("action", decision.Action),
		zap.Time("bar", bar.Timestamp),
	)

	return decision, nil
}

func (s *AIAdvisor) buildPrompt(bar domain.Bar, state State) string {
	closes := indicator.SliceTail(s.series.Close, s.lookback)
	parts := make([]string, 0, len(closes))
	for _, c := range closes {
		parts = append(parts, fmt.Sprintf("%.4f", c))
	}

	var sb strings.Builder
	sb.WriteString("你是量化交易助手。给定最近的收盘价序列与当前持仓，")
	sb.WriteString("输出JSON：{\"action\": \"BUY|SELL|HOLD\", \"reasoning\": \"...\"}。\n")
	sb.WriteString(fmt.Sprintf("标的: %s 周期: %s 最新K线: open=%.4f high=%.4f low=%.4f close=%.4f volume=%.2f\n",
		bar.InstrumentID, bar.Timeframe, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume))
	sb.WriteString("最近收盘价: " + strings.Join(parts, ",") + "\n")
	if len(closes) > 0 {
		change := indicator.SafeDivide(bar.Close-closes[0], closes[0])
		sb.WriteString(fmt.Sprintf("区间涨跌幅: %.2f%%\n", change*100))
	}
	sb.WriteString(fmt.Sprintf("持仓数量: %.4f 均价: %.4f 现金: %.2f 净值: %.2f\n",
		state.Position.Quantity, state.Position.AvgEntryPrice, state.Cash, state.Equity))
	sb.WriteString("只输出JSON，不要附加其它文字。")
	return sb.String()
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("strategy: 模型输出未找到有效JSON: %s", content)
	}
	return []byte(content[start : end+1]), nil
}
