package friend

import (
	"context"
	"errors"
	"log"
	"time"

	"omdchat/internal/errs"
	"omdchat/internal/model"

	"gorm.io/gorm"
)

// Service 好友关系引擎。关系用有向边表示，双向好友是两条 accepted 边；
// 所有涉及两条边的变更（同意、拉黑、删除）都在一个事务内完成，要么
// 全部生效要么全部回滚，读取方不会看到只改了一半的状态。
type Service struct {
	db *gorm.DB
}

// NewService 创建好友关系引擎
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// FriendEntry 好友列表项
type FriendEntry struct {
	Edge        model.FriendEdge `json:"edge"`
	Peer        *model.User      `json:"peer"`
	UnreadCount int64            `json:"unread_count"`
	LastMessage *model.Message   `json:"last_message,omitempty"`
}

// findEdge 查询单条有向边，不存在时返回 nil
func findEdge(tx *gorm.DB, ownerID, peerID string) (*model.FriendEdge, error) {
	var edge model.FriendEdge
	err := tx.Where("owner_id = ? AND peer_id = ?", ownerID, peerID).First(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.TransientStore("查询好友关系失败", err)
	}
	return &edge, nil
}

// RequestFriend 发起好友申请，创建 (owner,peer)=pending 边
func (s *Service) RequestFriend(ctx context.Context, ownerID, peerID string) error {
	if ownerID == peerID {
		return errs.Validation("不能添加自己为好友")
	}

	db := s.db.WithContext(ctx)

	// 对方账号必须存在
	var count int64
	if err := db.Model(&model.User{}).Where("id = ?", peerID).Count(&count).Error; err != nil {
		return errs.TransientStore("查询账号失败", err)
	}
	if count == 0 {
		return errs.NotFound("账号不存在")
	}

	own, err := findEdge(db, ownerID, peerID)
	if err != nil {
		return err
	}
	if own != nil {
		// 每个有序对至多一条边：被拒后的重试走 ReRequest，已拉黑先解除
		return errs.Conflict("已经是好友或已经申请过添加好友")
	}

	incoming, err := findEdge(db, peerID, ownerID)
	if err != nil {
		return err
	}
	if incoming != nil && (incoming.Status == model.EdgePending || incoming.Status == model.EdgeAccepted) {
		return errs.Conflict("已经是好友或已经申请过添加好友")
	}

	edge := model.FriendEdge{
		OwnerID:   ownerID,
		PeerID:    peerID,
		Status:    model.EdgePending,
		CreatedAt: time.Now(),
	}
	if err := db.Create(&edge).Error; err != nil {
		return errs.TransientStore("创建好友申请失败", err)
	}

	log.Printf("账号 %s 向 %s 发起好友申请", ownerID, peerID)
	return nil
}

// AcceptFriend 同意好友申请。owner 是申请的接收方：把申请方的边
// (peer,owner) 改为 accepted，同时写入反向边 (owner,peer)=accepted。
func (s *Service) AcceptFriend(ctx context.Context, ownerID, peerID string) error {
	if ownerID == peerID {
		return errs.Validation("无效的好友操作")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		incoming, err := findEdge(tx, peerID, ownerID)
		if err != nil {
			return err
		}
		if incoming == nil {
			return errs.NotFound("好友申请不存在")
		}
		if incoming.Status != model.EdgePending {
			return errs.Conflict("好友申请已被处理")
		}

		now := time.Now()
		res := tx.Model(&model.FriendEdge{}).
			Where("owner_id = ? AND peer_id = ?", peerID, ownerID).
			Updates(map[string]interface{}{"status": model.EdgeAccepted, "verified_at": now})
		if res.Error != nil {
			return errs.TransientStore("更新好友申请失败", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.Conflict("好友申请已被处理")
		}

		// 反向边可能残留着 rejected 等历史状态，存在则更新，否则插入
		own, err := findEdge(tx, ownerID, peerID)
		if err != nil {
			return err
		}
		if own != nil {
			res := tx.Model(&model.FriendEdge{}).
				Where("owner_id = ? AND peer_id = ?", ownerID, peerID).
				Updates(map[string]interface{}{"status": model.EdgeAccepted, "verified_at": now})
			if res.Error != nil {
				return errs.TransientStore("更新反向好友关系失败", res.Error)
			}
		} else {
			reverse := model.FriendEdge{
				OwnerID:    ownerID,
				PeerID:     peerID,
				Status:     model.EdgeAccepted,
				CreatedAt:  now,
				VerifiedAt: &now,
			}
			if err := tx.Create(&reverse).Error; err != nil {
				return errs.TransientStore("创建反向好友关系失败", err)
			}
		}

		log.Printf("账号 %s 同意了 %s 的好友申请", ownerID, peerID)
		return nil
	})
}

// RejectFriend 拒绝好友申请，把申请方的边 (peer,owner) 改为 rejected
func (s *Service) RejectFriend(ctx context.Context, ownerID, peerID string) error {
	db := s.db.WithContext(ctx)

	incoming, err := findEdge(db, peerID, ownerID)
	if err != nil {
		return err
	}
	if incoming == nil {
		return errs.NotFound("好友申请不存在")
	}
	if incoming.Status != model.EdgePending {
		return errs.Conflict("好友申请已被处理")
	}

	res := db.Model(&model.FriendEdge{}).
		Where("owner_id = ? AND peer_id = ? AND status = ?", peerID, ownerID, model.EdgePending).
		Update("status", model.EdgeRejected)
	if res.Error != nil {
		return errs.TransientStore("更新好友申请失败", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Conflict("好友申请已被处理")
	}

	log.Printf("账号 %s 拒绝了 %s 的好友申请", ownerID, peerID)
	return nil
}

// ReRequest 被拒绝后重新申请，把自己的边 (owner,peer) 重置为 pending。
// 对方已拉黑时不允许。
func (s *Service) ReRequest(ctx context.Context, ownerID, peerID string) error {
	if ownerID == peerID {
		return errs.Validation("无效的好友操作")
	}

	db := s.db.WithContext(ctx)

	// 先查是否被对方拉黑
	incoming, err := findEdge(db, peerID, ownerID)
	if err != nil {
		return err
	}
	if incoming != nil && incoming.Status == model.EdgeBlocked {
		return errs.Authorization("对方已拉黑您，请不要重复添加")
	}

	own, err := findEdge(db, ownerID, peerID)
	if err != nil {
		return err
	}
	if own == nil {
		return errs.NotFound("好友申请不存在")
	}
	if own.Status != model.EdgeRejected {
		return errs.Conflict("当前状态不允许重新申请")
	}

	res := db.Model(&model.FriendEdge{}).
		Where("owner_id = ? AND peer_id = ? AND status = ?", ownerID, peerID, model.EdgeRejected).
		Update("status", model.EdgePending)
	if res.Error != nil {
		return errs.TransientStore("重新申请失败", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Conflict("当前状态不允许重新申请")
	}

	log.Printf("账号 %s 重新向 %s 发起好友申请", ownerID, peerID)
	return nil
}

// BlockUser 拉黑。拉黑是单向的，最终状态是 (owner,peer)=blocked：
//   - 双向好友：事务内先删除两条边，再插入拉黑边；
//   - 仅对方发起过未处理的申请：申请边改为 rejected，再插入拉黑边；
//   - 其余情况：自己的边改为/插入 blocked。
//
// 重复拉黑返回冲突。
func (s *Service) BlockUser(ctx context.Context, ownerID, peerID string) error {
	if ownerID == peerID {
		return errs.Validation("不能拉黑自己")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		own, err := findEdge(tx, ownerID, peerID)
		if err != nil {
			return err
		}
		if own != nil && own.Status == model.EdgeBlocked {
			return errs.Conflict("用户已被拉黑")
		}

		incoming, err := findEdge(tx, peerID, ownerID)
		if err != nil {
			return err
		}

		blockedEdge := model.FriendEdge{
			OwnerID:   ownerID,
			PeerID:    peerID,
			Status:    model.EdgeBlocked,
			CreatedAt: time.Now(),
		}

		switch {
		// 双向好友：先删两条边再拉黑
		case own != nil && own.Status == model.EdgeAccepted &&
			incoming != nil && incoming.Status == model.EdgeAccepted:
			res := tx.Where("(owner_id = ? AND peer_id = ?) OR (owner_id = ? AND peer_id = ?)",
				ownerID, peerID, peerID, ownerID).Delete(&model.FriendEdge{})
			if res.Error != nil {
				return errs.TransientStore("删除好友关系失败", res.Error)
			}
			if err := tx.Create(&blockedEdge).Error; err != nil {
				return errs.TransientStore("写入拉黑关系失败", err)
			}

		// 仅对方发起过申请：申请改为拒绝，再拉黑
		case own == nil && incoming != nil:
			res := tx.Model(&model.FriendEdge{}).
				Where("owner_id = ? AND peer_id = ?", peerID, ownerID).
				Update("status", model.EdgeRejected)
			if res.Error != nil {
				return errs.TransientStore("更新对方申请失败", res.Error)
			}
			if err := tx.Create(&blockedEdge).Error; err != nil {
				return errs.TransientStore("写入拉黑关系失败", err)
			}

		// 自己已有边：直接改状态
		case own != nil:
			res := tx.Model(&model.FriendEdge{}).
				Where("owner_id = ? AND peer_id = ?", ownerID, peerID).
				Update("status", model.EdgeBlocked)
			if res.Error != nil {
				return errs.TransientStore("写入拉黑关系失败", res.Error)
			}

		// 没有任何关系：插入拉黑边
		default:
			if err := tx.Create(&blockedEdge).Error; err != nil {
				return errs.TransientStore("写入拉黑关系失败", err)
			}
		}

		log.Printf("账号 %s 拉黑了 %s", ownerID, peerID)
		return nil
	})
}

// Unblock 解除拉黑，删除自己的 blocked 边。
// 不在黑名单中时返回 NotFound。
func (s *Service) Unblock(ctx context.Context, ownerID, peerID string) error {
	db := s.db.WithContext(ctx)

	own, err := findEdge(db, ownerID, peerID)
	if err != nil {
		return err
	}
	if own == nil || own.Status != model.EdgeBlocked {
		return errs.NotFound("该用户不在黑名单中")
	}

	res := db.Where("owner_id = ? AND peer_id = ? AND status = ?",
		ownerID, peerID, model.EdgeBlocked).Delete(&model.FriendEdge{})
	if res.Error != nil {
		return errs.TransientStore("删除拉黑关系失败", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("该用户不在黑名单中")
	}

	log.Printf("账号 %s 解除了对 %s 的拉黑", ownerID, peerID)
	return nil
}

// DeleteFriend 删除好友，事务内移除两个方向的边
func (s *Service) DeleteFriend(ctx context.Context, ownerID, peerID string) error {
	if ownerID == peerID {
		return errs.Validation("无效的好友操作")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("(owner_id = ? AND peer_id = ?) OR (owner_id = ? AND peer_id = ?)",
			ownerID, peerID, peerID, ownerID).Delete(&model.FriendEdge{})
		if res.Error != nil {
			return errs.TransientStore("删除好友关系失败", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.NotFound("好友关系不存在")
		}

		log.Printf("账号 %s 删除了好友 %s", ownerID, peerID)
		return nil
	})
}

// QueryStatus 查询自己指向对方的边，不存在时返回 nil
func (s *Service) QueryStatus(ctx context.Context, ownerID, peerID string) (*model.FriendEdge, error) {
	return findEdge(s.db.WithContext(ctx), ownerID, peerID)
}

// ListFriends 按状态分页查询好友列表，按边创建时间倒序
func (s *Service) ListFriends(ctx context.Context, ownerID, status string, pageNum, pageSize int) (*model.PageResult[FriendEntry], error) {
	db := s.db.WithContext(ctx)
	query := db.Model(&model.FriendEdge{}).Where("owner_id = ? AND status = ?", ownerID, status)
	return s.pageEdges(db, query, pageNum, pageSize, func(e model.FriendEdge) string { return e.PeerID })
}

// ListIncomingRequests 分页查询收到的好友申请，按申请时间倒序
func (s *Service) ListIncomingRequests(ctx context.Context, ownerID string, pageNum, pageSize int) (*model.PageResult[FriendEntry], error) {
	db := s.db.WithContext(ctx)
	query := db.Model(&model.FriendEdge{}).Where("peer_id = ? AND status = ?", ownerID, model.EdgePending)
	return s.pageEdges(db, query, pageNum, pageSize, func(e model.FriendEdge) string { return e.OwnerID })
}

// pageEdges 统一的分页查询：计总数、取当前页、批量补齐对端账号信息
func (s *Service) pageEdges(db *gorm.DB, query *gorm.DB, pageNum, pageSize int,
	peerOf func(model.FriendEdge) string) (*model.PageResult[FriendEntry], error) {

	if pageNum < 1 {
		pageNum = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	// 同一条件链复用两次，先固化避免 Count 污染后续查询
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, errs.TransientStore("统计好友关系失败", err)
	}

	var edges []model.FriendEdge
	err := query.Order("created_at DESC").
		Offset((pageNum - 1) * pageSize).
		Limit(pageSize).
		Find(&edges).Error
	if err != nil {
		return nil, errs.TransientStore("查询好友关系失败", err)
	}

	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, peerOf(e))
	}
	users := make(map[string]*model.User, len(ids))
	if len(ids) > 0 {
		var rows []model.User
		if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, errs.TransientStore("查询账号失败", err)
		}
		for i := range rows {
			users[rows[i].ID] = &rows[i]
		}
	}

	items := make([]FriendEntry, 0, len(edges))
	for _, e := range edges {
		items = append(items, FriendEntry{Edge: e, Peer: users[peerOf(e)]})
	}

	return &model.PageResult[FriendEntry]{
		Total:    total,
		PageNum:  pageNum,
		PageSize: pageSize,
		Items:    items,
	}, nil
}
