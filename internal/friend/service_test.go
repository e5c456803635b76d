package friend_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"omdchat/internal/errs"
	"omdchat/internal/friend"
	"omdchat/internal/model"
	"omdchat/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createUser(t *testing.T, db *gorm.DB, username string) string {
	t.Helper()
	u := model.User{
		ID:        uuid.New().String(),
		Username:  username,
		Password:  "hashed",
		Nickname:  username,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&u).Error)
	return u.ID
}

func edgeStatus(t *testing.T, db *gorm.DB, ownerID, peerID string) string {
	t.Helper()
	var edge model.FriendEdge
	err := db.Where("owner_id = ? AND peer_id = ?", ownerID, peerID).First(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ""
	}
	require.NoError(t, err)
	return edge.Status
}

func TestRequestFriend(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	assert.Equal(t, model.EdgePending, edgeStatus(t, db, alice, bob))
	assert.Equal(t, "", edgeStatus(t, db, bob, alice))
}

func TestRequestFriendSelf(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)

	alice := createUser(t, db, "alice")
	err := svc.RequestFriend(context.Background(), alice, alice)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestRequestFriendUnknownPeer(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)

	alice := createUser(t, db, "alice")
	err := svc.RequestFriend(context.Background(), alice, "no-such-account")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestRequestFriendDuplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	err := svc.RequestFriend(ctx, alice, bob)
	assert.True(t, errs.IsKind(err, errs.KindConflict))

	// 对方已经申请过，自己再申请也是冲突，应该走同意流程
	err = svc.RequestFriend(ctx, bob, alice)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
}

func TestAcceptFriend(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	require.NoError(t, svc.AcceptFriend(ctx, bob, alice))

	// 两个方向都是 accepted
	assert.Equal(t, model.EdgeAccepted, edgeStatus(t, db, alice, bob))
	assert.Equal(t, model.EdgeAccepted, edgeStatus(t, db, bob, alice))

	var edge model.FriendEdge
	require.NoError(t, db.Where("owner_id = ? AND peer_id = ?", alice, bob).First(&edge).Error)
	assert.NotNil(t, edge.VerifiedAt)
}

func TestAcceptFriendWithoutRequest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	err := svc.AcceptFriend(context.Background(), bob, alice)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestAcceptFriendAlreadyHandled(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	require.NoError(t, svc.AcceptFriend(ctx, bob, alice))

	err := svc.AcceptFriend(ctx, bob, alice)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
}

func TestAcceptFriendRollsBackOnFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	require.NoError(t, svc.RequestFriend(ctx, alice, bob))

	// 注入失败：反向边写入时报错，整个事务必须回滚
	require.NoError(t, db.Callback().Create().Before("gorm:create").
		Register("fail_reverse_edge", func(tx *gorm.DB) {
			if edge, ok := tx.Statement.Dest.(*model.FriendEdge); ok && edge.Status == model.EdgeAccepted {
				tx.AddError(fmt.Errorf("injected failure"))
			}
		}))
	defer db.Callback().Create().Remove("fail_reverse_edge")

	err := svc.AcceptFriend(ctx, bob, alice)
	require.Error(t, err)

	// 申请方的边仍然是 pending，没有只改了一半的状态
	assert.Equal(t, model.EdgePending, edgeStatus(t, db, alice, bob))
	assert.Equal(t, "", edgeStatus(t, db, bob, alice))
}

func TestBlockRollsBackOnFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	require.NoError(t, svc.AcceptFriend(ctx, bob, alice))

	// 注入失败：拉黑边写入时报错，已删除的好友边必须恢复
	require.NoError(t, db.Callback().Create().Before("gorm:create").
		Register("fail_blocked_edge", func(tx *gorm.DB) {
			if edge, ok := tx.Statement.Dest.(*model.FriendEdge); ok && edge.Status == model.EdgeBlocked {
				tx.AddError(fmt.Errorf("injected failure"))
			}
		}))
	defer db.Callback().Create().Remove("fail_blocked_edge")

	err := svc.BlockUser(ctx, alice, bob)
	require.Error(t, err)

	assert.Equal(t, model.EdgeAccepted, edgeStatus(t, db, alice, bob))
	assert.Equal(t, model.EdgeAccepted, edgeStatus(t, db, bob, alice))
}

func TestRejectAndReRequest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	require.NoError(t, svc.RejectFriend(ctx, bob, alice))
	assert.Equal(t, model.EdgeRejected, edgeStatus(t, db, alice, bob))

	// 被拒后可以重新申请
	require.NoError(t, svc.ReRequest(ctx, alice, bob))
	assert.Equal(t, model.EdgePending, edgeStatus(t, db, alice, bob))

	// pending 状态下不能再重新申请
	err := svc.ReRequest(ctx, alice, bob)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
}

func TestRejectAlreadyHandled(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	require.NoError(t, svc.AcceptFriend(ctx, bob, alice))

	err := svc.RejectFriend(ctx, bob, alice)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
}

func TestReRequestBlockedByPeer(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	require.NoError(t, svc.RejectFriend(ctx, bob, alice))
	require.NoError(t, svc.BlockUser(ctx, bob, alice))

	err := svc.ReRequest(ctx, alice, bob)
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))
}

func TestBlockMutualFriend(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	require.NoError(t, svc.AcceptFriend(ctx, bob, alice))

	require.NoError(t, svc.BlockUser(ctx, alice, bob))

	// 好友关系被拆掉，只剩拉黑边
	assert.Equal(t, model.EdgeBlocked, edgeStatus(t, db, alice, bob))
	assert.Equal(t, "", edgeStatus(t, db, bob, alice))
}

func TestBlockPendingRequester(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	require.NoError(t, svc.BlockUser(ctx, bob, alice))

	// 对方的申请被置为拒绝，自己持有拉黑边
	assert.Equal(t, model.EdgeRejected, edgeStatus(t, db, alice, bob))
	assert.Equal(t, model.EdgeBlocked, edgeStatus(t, db, bob, alice))
}

func TestBlockStranger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.BlockUser(ctx, alice, bob))
	assert.Equal(t, model.EdgeBlocked, edgeStatus(t, db, alice, bob))

	err := svc.BlockUser(ctx, alice, bob)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
}

func TestUnblock(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.BlockUser(ctx, alice, bob))
	require.NoError(t, svc.Unblock(ctx, alice, bob))
	assert.Equal(t, "", edgeStatus(t, db, alice, bob))

	err := svc.Unblock(ctx, alice, bob)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestDeleteFriend(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	require.NoError(t, svc.AcceptFriend(ctx, bob, alice))

	require.NoError(t, svc.DeleteFriend(ctx, alice, bob))
	assert.Equal(t, "", edgeStatus(t, db, alice, bob))
	assert.Equal(t, "", edgeStatus(t, db, bob, alice))

	err := svc.DeleteFriend(ctx, alice, bob)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestQueryStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	edge, err := svc.QueryStatus(ctx, alice, bob)
	require.NoError(t, err)
	assert.Nil(t, edge)

	require.NoError(t, svc.RequestFriend(ctx, alice, bob))
	edge, err = svc.QueryStatus(ctx, alice, bob)
	require.NoError(t, err)
	require.NotNil(t, edge)
	assert.Equal(t, model.EdgePending, edge.Status)
}

func TestListFriendsPagination(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	for i := 0; i < 5; i++ {
		peer := createUser(t, db, fmt.Sprintf("peer%d", i))
		require.NoError(t, svc.RequestFriend(ctx, alice, peer))
		require.NoError(t, svc.AcceptFriend(ctx, peer, alice))
	}

	page, err := svc.ListFriends(ctx, alice, model.EdgeAccepted, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Len(t, page.Items, 3)
	for _, item := range page.Items {
		require.NotNil(t, item.Peer)
		assert.Equal(t, item.Edge.PeerID, item.Peer.ID)
	}

	page, err = svc.ListFriends(ctx, alice, model.EdgeAccepted, 2, 3)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestListIncomingRequests(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	carol := createUser(t, db, "carol")

	require.NoError(t, svc.RequestFriend(ctx, bob, alice))
	require.NoError(t, svc.RequestFriend(ctx, carol, alice))

	page, err := svc.ListIncomingRequests(ctx, alice, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Items, 2)
	for _, item := range page.Items {
		require.NotNil(t, item.Peer)
		assert.Equal(t, item.Edge.OwnerID, item.Peer.ID)
		assert.Equal(t, model.EdgePending, item.Edge.Status)
	}
}
