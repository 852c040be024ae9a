package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"text/template"
	"time"

	"backcast/internal/indicator"
	"backcast/internal/market"
)

const decisionTemplate = `
你是一个专业的加密货币量化交易员，正在对历史行情做逐根K线的回测决策。你只能看到截至当前K线的数据。

当前K线时间: {{ .Timestamp }}
窗口长度: {{ .WindowLength }} 根K线

技术指标：
{{ .FeaturesJSON }}

当前持仓状况：
{{- if .InPosition }}
- 已持有多头仓位
{{- else }}
- 空仓
{{- end }}

规则：
1. 空仓时只能输出 BUY 或 HOLD；
2. 持仓时只能输出 SELL 或 HOLD；
3. 不确定时输出 HOLD。

请严格输出唯一的 JSON 对象，格式如下：
{
  "action": "BUY|SELL|HOLD",
  "confidence": 0.0-1.0,
  "reasoning": "..."
}
`

var tmpl = template.Must(template.New("decision").Parse(decisionTemplate))

// Features 为提示词中的指标快照，无法计算的指标置为 nil。
type Features struct {
	Close         float64  `json:"close"`
	ChangePct     *float64 `json:"change_pct"`
	SMAFast       *float64 `json:"sma_fast"`
	SMASlow       *float64 `json:"sma_slow"`
	MACD          *float64 `json:"macd"`
	MACDSignal    *float64 `json:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram"`
	RSI           *float64 `json:"rsi"`
	ATRRelative   *float64 `json:"atr_relative"`
	BollingerPos  *float64 `json:"bollinger_position"`
	VolumeRatio   *float64 `json:"volume_ratio"`
}

// PromptContext 用于渲染提示词。
type PromptContext struct {
	Timestamp    string
	WindowLength int
	InPosition   bool
	FeaturesJSON string
}

// ExtractFeatures 从窗口计算提示词所需的指标。
func ExtractFeatures(window []market.Candle, params indicator.Params) (Features, error) {
	res, err := indicator.Compute(window, params)
	if err != nil {
		return Features{}, err
	}
	return Features{
		Close:         round(res.Close),
		ChangePct:     optional(indicator.SafeDivide(res.Close-res.PreviousClose, res.PreviousClose)),
		SMAFast:       optional(res.SMAFast),
		SMASlow:       optional(res.SMASlow),
		MACD:          optional(res.MACD.Value),
		MACDSignal:    optional(res.MACD.Signal),
		MACDHistogram: optional(res.MACD.Histogram),
		RSI:           optional(res.RSI),
		ATRRelative:   optional(res.ATRRelative),
		BollingerPos:  optional(res.Bollinger.Position),
		VolumeRatio:   optional(res.VolumeRatio),
	}, nil
}

// BuildPrompt 将窗口指标与持仓状态渲染成提示词字符串。
func BuildPrompt(window []market.Candle, inPosition bool, params indicator.Params) (string, error) {
	if len(window) == 0 {
		return "", fmt.Errorf("ai: 窗口为空")
	}
	features, err := ExtractFeatures(window, params)
	if err != nil {
		return "", fmt.Errorf("ai: 计算特征失败: %w", err)
	}
	featuresJSON, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ai: 序列化特征失败: %w", err)
	}

	ctx := PromptContext{
		Timestamp:    window[len(window)-1].Timestamp.UTC().Format(time.RFC3339),
		WindowLength: len(window),
		InPosition:   inPosition,
		FeaturesJSON: string(featuresJSON),
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("ai: 渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}

func optional(v float64) *float64 {
	if !indicator.Valid(v) {
		return nil
	}
	r := round(v)
	return &r
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
