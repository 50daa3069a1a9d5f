package service

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const messageEventsQueue = "crm_message_events"

// MessageStoredEvent 消息落库后广播给 CRM 其余部分（内部聊天/实时推送）
// 的事件体。消费方只做 insert+broadcast，协议上没有更多约定
type MessageStoredEvent struct {
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	Phone          string `json:"phone"`
	Text           string `json:"text"`
	Direction      string `json:"direction"`
	ChannelType    string `json:"channel_type"`
}

// mqChannel 发布侧用到的最小通道操作，测试时换假实现
type mqChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// EventPublisher 把消息事件投到 MQ。通道和队列声明只做一次并缓存复用，
// 通道坏掉时在下一次发布前重开。发布失败只记账不回滚——
// 数据库里的消息行才是事实来源
type EventPublisher struct {
	mu   sync.Mutex
	ch   mqChannel
	open func() (mqChannel, error)
}

// NewEventPublisher 构建事件发布器
func NewEventPublisher(conn *amqp.Connection) *EventPublisher {
	return &EventPublisher{
		open: func() (mqChannel, error) {
			ch, err := conn.Channel()
			if err != nil {
				return nil, err
			}
			if _, err := ch.QueueDeclare(messageEventsQueue, true, false, false, false, nil); err != nil {
				ch.Close()
				return nil, err
			}
			return ch, nil
		},
	}
}

// channel 取缓存的通道，已关闭或没有时重开并声明队列
func (p *EventPublisher) channel() (mqChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

// invalidate 丢弃坏掉的通道，下一次发布会重开
func (p *EventPublisher) invalidate(ch mqChannel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.ch = nil
	}
	_ = ch.Close()
}

// PublishMessageStored 发布一条消息落库事件
func (p *EventPublisher) PublishMessageStored(ctx context.Context, ev *MessageStoredEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(
		ctx,
		"",
		messageEventsQueue,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		p.invalidate(ch)
		return err
	}
	return nil
}
