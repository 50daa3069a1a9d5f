package whatsapp

import (
	"strconv"
	"time"
)

// Cloud API 回调的嵌套结构（entry[].changes[].value）
type CloudWebhookPayload struct {
	Object string       `json:"object"`
	Entry  []CloudEntry `json:"entry"`
}

type CloudEntry struct {
	ID      string        `json:"id"`
	Changes []CloudChange `json:"changes"`
}

type CloudChange struct {
	Field string     `json:"field"`
	Value CloudValue `json:"value"`
}

type CloudValue struct {
	MessagingProduct string         `json:"messaging_product"`
	Metadata         CloudMetadata  `json:"metadata"`
	Contacts         []CloudContact `json:"contacts,omitempty"`
	Messages         []CloudMessage `json:"messages,omitempty"`
	Statuses         []CloudStatus  `json:"statuses,omitempty"`
}

type CloudMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type CloudContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

type CloudMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Context   *struct {
		From string `json:"from"`
		ID   string `json:"id"`
	} `json:"context,omitempty"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *CloudMedia `json:"image,omitempty"`
	Video    *CloudMedia `json:"video,omitempty"`
	Audio    *CloudMedia `json:"audio,omitempty"`
	Document *CloudMedia `json:"document,omitempty"`
}

type CloudMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type CloudStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// NormalizeCloudValue 展开一个 value 里的 messages[] 与 statuses[]。
// 单条坏数据只跳过该条，同批次其余照常返回；未知消息类型归为
// unsupported（正文留空）而不是丢弃
func NormalizeCloudValue(v *CloudValue) ([]*NormalizedMessage, []*NormalizedStatus) {
	// wa_id -> 显示名
	names := make(map[string]string, len(v.Contacts))
	for _, c := range v.Contacts {
		if c.WaID != "" && c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}

	var msgs []*NormalizedMessage
	for i := range v.Messages {
		if m := normalizeCloudMessage(&v.Messages[i], names); m != nil {
			msgs = append(msgs, m)
		}
	}

	var sts []*NormalizedStatus
	for _, s := range v.Statuses {
		if s.ID == "" || s.Status == "" {
			continue
		}
		sts = append(sts, &NormalizedStatus{
			ProviderMessageID: s.ID,
			Status:            s.Status,
			RecipientID:       s.RecipientID,
			Timestamp:         cloudTimestamp(s.Timestamp),
		})
	}
	return msgs, sts
}

// normalizeCloudMessage 单条消息归一化；结构性缺陷（缺 id/发送方）返回 nil
func normalizeCloudMessage(cm *CloudMessage, names map[string]string) *NormalizedMessage {
	if cm.ID == "" || cm.From == "" {
		return nil
	}

	m := &NormalizedMessage{
		ProviderMessageID: cm.ID,
		From:              onlyDigits(cm.From),
		FromName:          names[cm.From],
		Timestamp:         cloudTimestamp(cm.Timestamp),
		Context:           map[string]any{"wa_id": cm.From},
	}
	if cm.Context != nil {
		m.QuotedMessageID = cm.Context.ID
	}

	switch cm.Type {
	case TypeText:
		if cm.Text == nil {
			return nil
		}
		m.Type = TypeText
		m.Text = cm.Text.Body
	case TypeImage:
		if cm.Image == nil {
			return nil
		}
		m.Type = TypeImage
		m.MediaID = cm.Image.ID
		m.MediaCaption = cm.Image.Caption
		m.Text = cm.Image.Caption
	case TypeVideo:
		if cm.Video == nil {
			return nil
		}
		m.Type = TypeVideo
		m.MediaID = cm.Video.ID
		m.MediaCaption = cm.Video.Caption
		m.Text = cm.Video.Caption
	case TypeAudio:
		if cm.Audio == nil {
			return nil
		}
		m.Type = TypeAudio
		m.MediaID = cm.Audio.ID
	case TypeDocument:
		if cm.Document == nil {
			return nil
		}
		m.Type = TypeDocument
		m.MediaID = cm.Document.ID
		m.MediaCaption = cm.Document.Caption
		m.MediaFilename = cm.Document.Filename
		m.Text = cm.Document.Caption
	default:
		// 良构但不认识的类型（sticker/reaction/interactive 等）
		m.Type = TypeUnsupported
	}
	return m
}

// cloudTimestamp Meta 的时间戳是十进制秒的字符串；解析失败返回零值
func cloudTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
