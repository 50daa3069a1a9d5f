package whatsapp

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// 桥接服务回调的事件名
const (
	BridgeEventMessagesUpsert = "messages.upsert"
	BridgeEventMessagesUpdate = "messages.update"
	BridgeEventContactsUpsert = "contacts.upsert"
)

// BridgeEvent 桥接回调的统一外层结构，data 按事件名再解析
type BridgeEvent struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type bridgeParty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bridgeKey struct {
	ID     string `json:"id"`
	FromMe bool   `json:"fromMe"`
}

type bridgeMessageData struct {
	ID          string     `json:"id"`
	Key         *bridgeKey `json:"key"`
	MessageType string     `json:"messageType"`
	Timestamp   int64      `json:"timestamp"`
	FromMe      bool       `json:"fromMe"`
	TextMessage *struct {
		Text string `json:"text"`
	} `json:"textMessage"`
	MediaMessage *struct {
		ID        string `json:"id"`
		MediaType string `json:"mediatype"`
		Caption   string `json:"caption"`
		FileName  string `json:"fileName"`
	} `json:"mediaMessage"`
	QuotedMessageID string      `json:"quotedMessageId"`
	Sender          bridgeParty `json:"sender"`
	Chat            bridgeParty `json:"chat"`
}

type bridgeContactData struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PushName string `json:"pushName"`
}

type bridgeStatusData struct {
	ID        string     `json:"id"`
	Key       *bridgeKey `json:"key"`
	Status    string     `json:"status"`
	Timestamp int64      `json:"timestamp"`
}

var errBridgeNoPhone = errors.New("bridge event missing sender phone")

// NormalizeBridgeMessage 把桥接 messages.upsert 的 data 归一化。
// 正文取第一个非空的：直接文本、媒体 caption，否则用
// 「[大写消息类型]」占位；未知类型归为 unsupported，不报错
func NormalizeBridgeMessage(data json.RawMessage) (*NormalizedMessage, error) {
	var d bridgeMessageData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}

	phone := PhoneFromJID(d.Sender.ID)
	if phone == "" {
		phone = PhoneFromJID(d.Chat.ID)
	}
	if phone == "" {
		return nil, errBridgeNoPhone
	}

	id := d.ID
	fromMe := d.FromMe
	if d.Key != nil {
		if id == "" {
			id = d.Key.ID
		}
		fromMe = fromMe || d.Key.FromMe
	}

	rawType := strings.ToLower(d.MessageType)
	msgType := rawType
	if !knownType(msgType) {
		msgType = TypeUnsupported
	}

	m := &NormalizedMessage{
		ProviderMessageID: id,
		From:              phone,
		FromName:          d.Sender.Name,
		Type:              msgType,
		QuotedMessageID:   d.QuotedMessageID,
		FromMe:            fromMe,
		Context: map[string]any{
			"chat_jid":   d.Chat.ID,
			"sender_jid": d.Sender.ID,
		},
	}
	if d.Timestamp > 0 {
		m.Timestamp = time.Unix(d.Timestamp, 0).UTC()
	}
	if d.MediaMessage != nil {
		m.MediaID = d.MediaMessage.ID
		m.MediaCaption = d.MediaMessage.Caption
		m.MediaFilename = d.MediaMessage.FileName
	}

	switch {
	case d.TextMessage != nil && d.TextMessage.Text != "":
		m.Text = d.TextMessage.Text
	case m.MediaCaption != "":
		m.Text = m.MediaCaption
	default:
		if rawType == "" {
			rawType = "unknown"
		}
		m.Text = "[" + strings.ToUpper(rawType) + "]"
	}
	return m, nil
}

// NormalizeBridgeContact 把 contacts.upsert 的 data 归一化成 手机号+显示名
func NormalizeBridgeContact(data json.RawMessage) (phone, name string, err error) {
	var d bridgeContactData
	if err := json.Unmarshal(data, &d); err != nil {
		return "", "", err
	}
	phone = PhoneFromJID(d.ID)
	if phone == "" {
		return "", "", errBridgeNoPhone
	}
	name = d.Name
	if name == "" {
		name = d.PushName
	}
	return phone, name, nil
}

// NormalizeBridgeStatus 把 messages.update 的 data 归一化成状态回执
func NormalizeBridgeStatus(data json.RawMessage) (*NormalizedStatus, error) {
	var d bridgeStatusData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	id := d.ID
	if id == "" && d.Key != nil {
		id = d.Key.ID
	}
	if id == "" {
		return nil, errors.New("bridge status missing message id")
	}
	st := &NormalizedStatus{
		ProviderMessageID: id,
		Status:            mapBridgeStatus(d.Status),
	}
	if d.Timestamp > 0 {
		st.Timestamp = time.Unix(d.Timestamp, 0).UTC()
	}
	if st.Status == "" {
		return nil, errors.New("bridge status missing status value")
	}
	return st, nil
}

// mapBridgeStatus 桥接的回执值映射到统一状态；认不出的值原样小写透传
func mapBridgeStatus(s string) string {
	switch strings.ToUpper(s) {
	case "SERVER_ACK", "SENT":
		return "sent"
	case "DELIVERY_ACK", "DELIVERED":
		return "delivered"
	case "READ":
		return "read"
	case "ERROR", "FAILED":
		return "failed"
	}
	return strings.ToLower(s)
}
