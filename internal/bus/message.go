package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind 是总线上消息类型的封闭集合。
type Kind string

const (
	KindScanRequest       Kind = "scan_request"
	KindBalanceUpdate     Kind = "balance_update"
	KindSentimentAlert    Kind = "sentiment_alert"
	KindRiskSummary       Kind = "risk_summary"
	KindGraphRequest      Kind = "graph_request"
	KindGraphConfig       Kind = "graph_config"
	KindTokenChartRequest Kind = "token_chart_request"
	KindTokenChartConfig  Kind = "token_chart_config"
)

// Kinds 返回所有已知的消息类型。
func Kinds() []Kind {
	return []Kind{
		KindScanRequest, KindBalanceUpdate, KindSentimentAlert, KindRiskSummary,
		KindGraphRequest, KindGraphConfig, KindTokenChartRequest, KindTokenChartConfig,
	}
}

// Valid 判断类型是否在封闭集合内。
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Payload 由每种消息类型唯一对应的载荷结构体实现。
type Payload interface {
	PayloadKind() Kind
}

// Message 是总线上传递的信封。ID 与 Timestamp 由总线在发送时写入，
// 调用方填写的值会被覆盖；发送之后消息按值传递，不再被修改。
type Message struct {
	ID            string
	Kind          Kind
	From          string
	To            string
	CorrelationID string
	ReplyTo       string
	Payload       Payload
	Timestamp     time.Time
}

// Reply 构造一条回复消息：收发方互换，关联 ID 原样带回。
// 若原消息指定了 ReplyTo，则回复发往 ReplyTo。
func (m Message) Reply(kind Kind, payload Payload) Message {
	to := m.From
	if m.ReplyTo != "" {
		to = m.ReplyTo
	}
	return Message{
		Kind:          kind,
		From:          m.To,
		To:            to,
		CorrelationID: m.CorrelationID,
		Payload:       payload,
	}
}

type wireMessage struct {
	ID            string    `json:"id"`
	Type          Kind      `json:"type"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ReplyTo       string    `json:"reply_to,omitempty"`
	Payload       Payload   `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
}

// MarshalJSON 输出线上格式，时间戳为 RFC3339Nano。
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:            m.ID,
		Type:          m.Kind,
		From:          m.From,
		To:            m.To,
		CorrelationID: m.CorrelationID,
		ReplyTo:       m.ReplyTo,
		Payload:       m.Payload,
		Timestamp:     m.Timestamp.UTC(),
	})
}

// NewCorrelationID 生成一次请求/响应交互使用的关联 ID。
func NewCorrelationID() string {
	return uuid.NewString()
}
