package whatsapp

import "time"

// 上游渠道标识
const (
	ProviderBridge = "bridge"
	ProviderCloud  = "cloud"
)

// 归一化后的消息类型
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeVideo       = "video"
	TypeAudio       = "audio"
	TypeDocument    = "document"
	TypeUnsupported = "unsupported"
)

// NormalizedMessage 两个上游的事件归一化后的统一形态。
// 后续的会话解析与落库只认这个结构，不关心事件来自哪个渠道
type NormalizedMessage struct {
	// ProviderMessageID 上游消息 ID（去重键）；上游没给时为空
	ProviderMessageID string
	// From 纯数字手机号
	From     string
	FromName string
	// Timestamp 上游自带的消息时间；零值表示上游没给
	Timestamp       time.Time
	Type            string
	Text            string
	MediaID         string
	MediaCaption    string
	MediaFilename   string
	QuotedMessageID string
	// FromMe 是否本方发出（只有桥接事件携带该标记）
	FromMe bool
	// Context 渠道相关的附加信息，原样透传进消息 metadata
	Context map[string]any
}

// NormalizedStatus 投递状态回执的统一形态
type NormalizedStatus struct {
	ProviderMessageID string
	Status            string
	RecipientID       string
	Timestamp         time.Time
}

func knownType(t string) bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeDocument:
		return true
	}
	return false
}
