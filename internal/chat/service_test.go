package chat_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"omdchat/internal/cache"
	"omdchat/internal/chat"
	"omdchat/internal/errs"
	"omdchat/internal/friend"
	"omdchat/internal/model"
	"omdchat/internal/presence"
	"omdchat/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type chatFixture struct {
	db       *gorm.DB
	pubsub   cache.PubSub
	tracker  *presence.Tracker
	friends  *friend.Service
	messages *chat.Service
	alice    string
	bob      string
}

// newChatFixture 建好 alice 和 bob 并让他们互为好友
func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store, pubsub := testutil.SetupTestCache(t)
	tracker := presence.NewTracker(store, time.Minute)
	friends := friend.NewService(db)
	messages := chat.NewService(db, pubsub, tracker, friends)

	f := &chatFixture{
		db:       db,
		pubsub:   pubsub,
		tracker:  tracker,
		friends:  friends,
		messages: messages,
		alice:    newAccount(t, db, "alice"),
		bob:      newAccount(t, db, "bob"),
	}

	ctx := context.Background()
	require.NoError(t, friends.RequestFriend(ctx, f.alice, f.bob))
	require.NoError(t, friends.AcceptFriend(ctx, f.bob, f.alice))
	return f
}

func newAccount(t *testing.T, db *gorm.DB, username string) string {
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

func recvMessage(t *testing.T, ch <-chan *cache.Message) *model.Message {
	t.Helper()
	select {
	case raw := <-ch:
		var msg model.Message
		require.NoError(t, json.Unmarshal([]byte(raw.Payload), &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("等待推送消息超时")
		return nil
	}
}

func TestSendMessageRequiresAcceptedEdge(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store, pubsub := testutil.SetupTestCache(t)
	tracker := presence.NewTracker(store, time.Minute)
	friends := friend.NewService(db)
	messages := chat.NewService(db, pubsub, tracker, friends)
	ctx := context.Background()

	alice := newAccount(t, db, "alice")
	bob := newAccount(t, db, "bob")

	// 没有任何关系
	_, err := messages.SendMessage(ctx, alice, bob, "hi")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	// 申请还没被同意
	require.NoError(t, friends.RequestFriend(ctx, alice, bob))
	_, err = messages.SendMessage(ctx, alice, bob, "hi")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	// 自己拉黑了对方之后也不能发
	require.NoError(t, friends.BlockUser(ctx, alice, bob))
	_, err = messages.SendMessage(ctx, alice, bob, "hi")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	// 被拒绝的发送不落库
	var count int64
	require.NoError(t, db.Model(&model.Message{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestSendMessageBlankContent(t *testing.T) {
	f := newChatFixture(t)
	_, err := f.messages.SendMessage(context.Background(), f.alice, f.bob, "   ")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestSendMessagePersistsAndPushes(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.MarkOnline(ctx, f.bob))

	bobCh, cancelBob, err := f.pubsub.Subscribe(ctx, chat.ChannelFor(f.bob))
	require.NoError(t, err)
	defer cancelBob()
	aliceCh, cancelAlice, err := f.pubsub.Subscribe(ctx, chat.ChannelFor(f.alice))
	require.NoError(t, err)
	defer cancelAlice()

	sent, err := f.messages.SendMessage(ctx, f.alice, f.bob, "hello bob")
	require.NoError(t, err)
	assert.NotZero(t, sent.ID)
	assert.Equal(t, model.MessageUnread, sent.ReadStatus)

	// 接收方收到推送，发送方通道收到回显
	got := recvMessage(t, bobCh)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hello bob", got.Content)

	echo := recvMessage(t, aliceCh)
	assert.Equal(t, sent.ID, echo.ID)

	// 消息已落库
	var stored model.Message
	require.NoError(t, f.db.First(&stored, sent.ID).Error)
	assert.Equal(t, f.alice, stored.SenderID)
	assert.Equal(t, f.bob, stored.ReceiverID)
}

func TestSendMessageOfflineReceiver(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	bobCh, cancelBob, err := f.pubsub.Subscribe(ctx, chat.ChannelFor(f.bob))
	require.NoError(t, err)
	defer cancelBob()
	aliceCh, cancelAlice, err := f.pubsub.Subscribe(ctx, chat.ChannelFor(f.alice))
	require.NoError(t, err)
	defer cancelAlice()

	sent, err := f.messages.SendMessage(ctx, f.alice, f.bob, "are you there")
	require.NoError(t, err)

	// 发送方总是有回显，离线的接收方不推
	echo := recvMessage(t, aliceCh)
	assert.Equal(t, sent.ID, echo.ID)

	select {
	case msg := <-bobCh:
		t.Fatalf("接收方离线仍收到了推送: %v", msg)
	case <-time.After(20 * time.Millisecond):
	}

	// 消息仍然落库，可由历史记录恢复
	count, err := f.messages.UnreadCountByPeer(ctx, f.bob, f.alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFetchAndMarkRead(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		_, err := f.messages.SendMessage(ctx, f.alice, f.bob, content)
		require.NoError(t, err)
	}

	count, err := f.messages.UnreadCount(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// 拉取即已读
	page, err := f.messages.FetchAndMarkRead(ctx, f.bob, f.alice, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 3)
	for _, msg := range page.Items {
		assert.Equal(t, model.MessageRead, msg.ReadStatus)
	}

	count, err = f.messages.UnreadCount(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// 发送方拉取不影响自己发出的消息的已读状态
	count, err = f.messages.UnreadCount(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestFetchPagination(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := model.Message{
			SenderID:   f.alice,
			ReceiverID: f.bob,
			Content:    "m",
			SentAt:     time.Now().Add(time.Duration(i) * time.Second),
			ReadStatus: model.MessageUnread,
		}
		require.NoError(t, f.db.Create(&msg).Error)
	}

	page, err := f.messages.FetchAndMarkRead(ctx, f.bob, f.alice, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	require.Len(t, page.Items, 2)

	// 按发送时间倒序，第一页是最新的
	assert.True(t, page.Items[0].SentAt.After(page.Items[1].SentAt))

	page, err = f.messages.FetchAndMarkRead(ctx, f.bob, f.alice, 3, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestUnreadCountByPeer(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	carol := newAccount(t, f.db, "carol")
	require.NoError(t, f.friends.RequestFriend(ctx, carol, f.bob))
	require.NoError(t, f.friends.AcceptFriend(ctx, f.bob, carol))

	_, err := f.messages.SendMessage(ctx, f.alice, f.bob, "from alice")
	require.NoError(t, err)
	_, err = f.messages.SendMessage(ctx, carol, f.bob, "from carol")
	require.NoError(t, err)
	_, err = f.messages.SendMessage(ctx, carol, f.bob, "again")
	require.NoError(t, err)

	count, err := f.messages.UnreadCountByPeer(ctx, f.bob, carol)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	total, err := f.messages.UnreadCount(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestLastMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	last, err := f.messages.LastMessage(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = f.messages.SendMessage(ctx, f.alice, f.bob, "first")
	require.NoError(t, err)
	sent, err := f.messages.SendMessage(ctx, f.bob, f.alice, "second")
	require.NoError(t, err)

	last, err = f.messages.LastMessage(ctx, f.alice, f.bob)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, sent.ID, last.ID)
	assert.Equal(t, "second", last.Content)
}
