package chat

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"omdchat/internal/cache"
	"omdchat/internal/errs"
	"omdchat/internal/model"
	"omdchat/internal/presence"

	"gorm.io/gorm"
)

// ChannelFor 账号的推送通道名
func ChannelFor(accountID string) string {
	return "peer:" + accountID
}

// EdgeStore 好友关系的只读视图，发消息前用它做授权判定
type EdgeStore interface {
	QueryStatus(ctx context.Context, ownerID, peerID string) (*model.FriendEdge, error)
}

// Service 消息中继。消息先落库（服务端分配递增ID和时间戳），再尽力
// 推送：接收方在线推一份，发送方自己的通道也回显一份，保证发送方
// 多个已连接客户端的视图一致。推送失败不影响调用结果，历史记录是
// 唯一的恢复路径。
type Service struct {
	db       *gorm.DB
	pubsub   cache.PubSub
	presence *presence.Tracker
	friends  EdgeStore
}

// NewService 创建消息中继
func NewService(db *gorm.DB, ps cache.PubSub, tracker *presence.Tracker, friends EdgeStore) *Service {
	return &Service{
		db:       db,
		pubsub:   ps,
		presence: tracker,
		friends:  friends,
	}
}

// SendMessage 发送消息。只有 (sender,receiver) 边为 accepted 才允许发送
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errs.Validation("消息内容不能为空")
	}

	edge, err := s.friends.QueryStatus(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if edge == nil || edge.Status != model.EdgeAccepted {
		return nil, errs.Authorization("该用户不是您的好友或未通过好友申请")
	}

	msg := &model.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     time.Now(),
		ReadStatus: model.MessageUnread,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, errs.TransientStore("保存消息失败", err)
	}

	s.push(ctx, msg)
	return msg, nil
}

// push 尽力而为的双路推送：接收方在线推一份，发送方通道回显一份
func (s *Service) push(ctx context.Context, msg *model.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("序列化消息 %d 失败: %v", msg.ID, err)
		return
	}

	online, err := s.presence.IsOnline(ctx, msg.ReceiverID)
	if err != nil {
		log.Printf("查询账号 %s 在线状态失败: %v", msg.ReceiverID, err)
	}
	if online {
		if err := s.pubsub.Publish(ctx, ChannelFor(msg.ReceiverID), string(payload)); err != nil {
			log.Printf("推送消息 %d 到接收方失败: %v", msg.ID, err)
		}
	}

	// 回显到发送方自己的通道
	if err := s.pubsub.Publish(ctx, ChannelFor(msg.SenderID), string(payload)); err != nil {
		log.Printf("回显消息 %d 到发送方失败: %v", msg.ID, err)
	}
}

// FetchAndMarkRead 分页拉取与某个好友的聊天记录（按发送时间倒序），
// 同一事务内把对方发给自己的未读消息置为已读。读写耦合是刻意的：
// 拉取历史就是已读回执。
func (s *Service) FetchAndMarkRead(ctx context.Context, ownerID, peerID string, pageNum, pageSize int) (*model.PageResult[model.Message], error) {
	if pageNum < 1 {
		pageNum = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var result *model.PageResult[model.Message]
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		between := tx.Model(&model.Message{}).
			Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				ownerID, peerID, peerID, ownerID).
			Session(&gorm.Session{})

		var total int64
		if err := between.Count(&total).Error; err != nil {
			return errs.TransientStore("统计聊天记录失败", err)
		}

		var messages []model.Message
		err := between.Order("sent_at DESC, id DESC").
			Offset((pageNum - 1) * pageSize).
			Limit(pageSize).
			Find(&messages).Error
		if err != nil {
			return errs.TransientStore("查询聊天记录失败", err)
		}

		res := tx.Model(&model.Message{}).
			Where("sender_id = ? AND receiver_id = ? AND read_status = ?",
				peerID, ownerID, model.MessageUnread).
			Update("read_status", model.MessageRead)
		if res.Error != nil {
			return errs.TransientStore("更新已读状态失败", res.Error)
		}
		if res.RowsAffected > 0 {
			log.Printf("账号 %s 已读来自 %s 的 %d 条消息", ownerID, peerID, res.RowsAffected)
		}

		// 返回当前页的已读视图
		for i := range messages {
			if messages[i].ReceiverID == ownerID {
				messages[i].ReadStatus = model.MessageRead
			}
		}

		result = &model.PageResult[model.Message]{
			Total:    total,
			PageNum:  pageNum,
			PageSize: pageSize,
			Items:    messages,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UnreadCount 所有好友发来的未读消息总数，直接计数不做缓存
func (s *Service) UnreadCount(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("receiver_id = ? AND read_status = ?", ownerID, model.MessageUnread).
		Count(&count).Error
	if err != nil {
		return 0, errs.TransientStore("统计未读消息失败", err)
	}
	return count, nil
}

// UnreadCountByPeer 某个好友发来的未读消息数
func (s *Service) UnreadCountByPeer(ctx context.Context, ownerID, peerID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND read_status = ?",
			peerID, ownerID, model.MessageUnread).
		Count(&count).Error
	if err != nil {
		return 0, errs.TransientStore("统计未读消息失败", err)
	}
	return count, nil
}

// LastMessage 与某个好友之间的最后一条消息，没有时返回 nil
func (s *Service) LastMessage(ctx context.Context, ownerID, peerID string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			ownerID, peerID, peerID, ownerID).
		Order("sent_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errs.TransientStore("查询最后一条消息失败", err)
	}
	return &msg, nil
}
