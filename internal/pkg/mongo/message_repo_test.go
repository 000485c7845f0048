package mongo

import (
	"Patronage/internal/api/config"
	"Patronage/internal/chat"
	"Patronage/internal/testutil/testmongo"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestMessageRepo(t *testing.T) {
	uri := testmongo.StartMongo(t)
	db, err := InitMongo(config.MongoConfig{URL: uri, Database: "im", TimeoutMs: 5000})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Client().Disconnect(context.Background())
	})
	ctx := context.Background()

	// 每个子测试使用独立的库
	newRepo := func(t *testing.T) MessageRepo {
		name := "im_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
		if len(name) > 60 {
			name = name[:60]
		}
		repo := NewMessageRepo(db.Client().Database(name))
		require.NoError(t, repo.EnsureIndexes(ctx))
		require.NoError(t, repo.EnsureIndexes(ctx))
		return repo
	}
	at := time.UnixMilli(1_700_000_000_000)
	canonical := chat.Canonical(1, 2).String()
	fork := chat.Forked(chat.PairKey(1, 2), at).String()
	save := func(t *testing.T, repo MessageRepo, msgID, thread string, sender uint64, content string, created time.Time) *Message {
		t.Helper()
		m := &Message{MsgID: msgID, ThreadID: thread, SenderID: sender, Content: content, State: chat.StateSent, CreatedAt: created}
		require.NoError(t, repo.SaveMessage(ctx, m))
		require.False(t, m.ID.IsZero())
		return m
	}

	t.Run("history pages within the same millisecond", func(t *testing.T) {
		repo := newRepo(t)
		save(t, repo, "m0", canonical, 1, "zero", at.Add(-time.Second))
		for _, id := range []string{"m1", "m2", "m3"} {
			save(t, repo, id, canonical, 1, id, at)
		}
		save(t, repo, "other", fork, 1, "elsewhere", at)

		first, err := repo.GetHistory(ctx, canonical, HistoryCursor{}, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "m3", first[0].MsgID)
		assert.Equal(t, "m2", first[1].MsgID)

		last := first[1]
		second, err := repo.GetHistory(ctx, canonical, HistoryCursor{Before: last.CreatedAt, BeforeID: last.ID}, 2)
		require.NoError(t, err)
		require.Len(t, second, 2)
		assert.Equal(t, "m1", second[0].MsgID)
		assert.Equal(t, "m0", second[1].MsgID)

		// 只有时间的游标会跳过同一毫秒内剩余的消息
		coarse, err := repo.GetHistory(ctx, canonical, HistoryCursor{Before: at}, 10)
		require.NoError(t, err)
		require.Len(t, coarse, 1)
		assert.Equal(t, "m0", coarse[0].MsgID)
	})

	t.Run("copies are unique per thread", func(t *testing.T) {
		repo := newRepo(t)
		own := save(t, repo, "dual", fork, 1, "hi", at)
		save(t, repo, "dual", canonical, 1, "hi", at)

		err := repo.SaveMessage(ctx, &Message{MsgID: "dual", ThreadID: canonical, SenderID: 1, CreatedAt: at})
		assert.True(t, mongo.IsDuplicateKeyError(err))

		copies, err := repo.GetByMsgID(ctx, "dual")
		require.NoError(t, err)
		assert.Len(t, copies, 2)

		require.NoError(t, repo.DeleteCopy(ctx, own.ID))
		copies, err = repo.GetByMsgID(ctx, "dual")
		require.NoError(t, err)
		require.Len(t, copies, 1)
		assert.Equal(t, canonical, copies[0].ThreadID)
	})

	t.Run("delivery state only moves forward", func(t *testing.T) {
		repo := newRepo(t)
		save(t, repo, "a", canonical, 1, "from alice", at)
		save(t, repo, "b", canonical, 2, "from bob", at.Add(time.Millisecond))

		ids, err := repo.FindUnreadIDs(ctx, canonical, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids)

		n, err := repo.AdvanceState(ctx, []string{"a"}, chat.StateRead)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = repo.AdvanceState(ctx, []string{"a", "b"}, chat.StateDelivered)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = repo.AdvanceState(ctx, nil, chat.StateRead)
		require.NoError(t, err)
		assert.Zero(t, n)

		copies, err := repo.GetByMsgID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, chat.StateRead, copies[0].State)
		ids, err = repo.FindUnreadIDs(ctx, canonical, 2)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("edit touches unread copies and can be restored", func(t *testing.T) {
		repo := newRepo(t)
		save(t, repo, "e", fork, 1, "helo", at)
		save(t, repo, "e", canonical, 1, "helo", at)

		editedAt := at.Add(time.Minute)
		n, err := repo.EditUnread(ctx, "e", "hello", editedAt)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		copies, err := repo.GetByMsgID(ctx, "e")
		require.NoError(t, err)
		for _, c := range copies {
			assert.Equal(t, "hello", c.Content)
			assert.True(t, c.Edited)
			require.NotNil(t, c.EditedAt)
			assert.Equal(t, editedAt.UnixMilli(), c.EditedAt.UnixMilli())
		}

		require.NoError(t, repo.RestoreContent(ctx, "e", "helo", false, nil))
		copies, err = repo.GetByMsgID(ctx, "e")
		require.NoError(t, err)
		for _, c := range copies {
			assert.Equal(t, "helo", c.Content)
			assert.False(t, c.Edited)
			assert.Nil(t, c.EditedAt)
		}

		_, err = repo.AdvanceState(ctx, []string{"e"}, chat.StateRead)
		require.NoError(t, err)
		n, err = repo.EditUnread(ctx, "e", "too late", editedAt)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("delete removes unread and tombstones read", func(t *testing.T) {
		repo := newRepo(t)
		save(t, repo, "keep", canonical, 2, "older", at.Add(-time.Minute))
		save(t, repo, "gone", canonical, 1, "oops", at)
		read := &Message{
			MsgID:     "seen",
			ThreadID:  canonical,
			SenderID:  1,
			Content:   "photo",
			Payload:   []Payload{{MediaKey: "img/1.png", MimeType: "image/png"}},
			State:     chat.StateRead,
			CreatedAt: at.Add(time.Millisecond),
		}
		require.NoError(t, repo.SaveMessage(ctx, read))

		latest, err := repo.LatestVisible(ctx, canonical)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "seen", latest.MsgID)

		n, err := repo.DeleteUnread(ctx, "gone")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = repo.DeleteUnread(ctx, "seen")
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = repo.Tombstone(ctx, "seen")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		copies, err := repo.GetByMsgID(ctx, "seen")
		require.NoError(t, err)
		require.Len(t, copies, 1)
		assert.True(t, copies[0].Deleted)
		assert.Empty(t, copies[0].Content)
		assert.Empty(t, copies[0].Payload)
		assert.Equal(t, uint64(1), copies[0].SenderID)
		assert.Equal(t, read.CreatedAt.UnixMilli(), copies[0].CreatedAt.UnixMilli())

		latest, err = repo.LatestVisible(ctx, canonical)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "keep", latest.MsgID)

		latest, err = repo.LatestVisible(ctx, fork)
		require.NoError(t, err)
		assert.Nil(t, latest)

		n, err = repo.DeleteUnread(ctx, primitive.NewObjectID().Hex())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
