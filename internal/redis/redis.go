package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/notes-bin/crystal/internal/model"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrGalleryTaken       = errors.New("gallery id already taken")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrImageNotFound      = errors.New("image not found")
	ErrCollectionNotEmpty = errors.New("collection still has images")
	ErrConflict           = errors.New("too many concurrent updates")
)

const (
	maxTxRetries     = 10
	maxAllocAttempts = 50
	usersKey         = "users"
	popularityKey    = "image:likes"
	popularCacheKey  = "cache:popular"
	fileLockTTL      = 30 * time.Second
	fileLockRetry    = 20 * time.Millisecond
)

// unlockScript deletes a lock only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	*redis.Client
}

func NewClient(addr, password string, db, poolSize int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	_, err := client.Ping(context.Background()).Result()
	if err != nil {
		return nil, err
	}
	slog.Info("Connected to Redis", "addr", addr)
	return &Client{client}, nil
}

func userKey(id string) string             { return "user:" + id }
func userEmailKey(email string) string     { return "user:email:" + strings.ToLower(email) }
func userCollectionsKey(id string) string  { return "user:" + id + ":collections" }
func userImagesKey(id string) string       { return "user:" + id + ":images" }
func collectionKey(id string) string       { return "collection:" + id }
func collectionCountKey(id string) string  { return "collection:" + id + ":count" }
func collectionImagesKey(id string) string { return "collection:" + id + ":images" }
func imageKey(id string) string            { return "image:" + id }
func imageLikesKey(id string) string       { return "image:" + id + ":likes" }
func imageCommentsKey(id string) string    { return "image:" + id + ":comments" }
func fileRefsKey(name string) string       { return "file:" + name + ":refs" }
func fileLockKey(name string) string       { return "file:" + name + ":lock" }
func resetKey(token string) string         { return "reset:" + token }

// score orders members newest-last so ZRevRange lists newest first.
func score(t time.Time) float64 { return float64(t.UnixNano()) }

// watch runs fn in an optimistic transaction on keys, retrying when a
// watched key changes underneath it.
func (c *Client) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := c.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrConflict
}

// CreateUser stores a new user and its email index. When user.ID is empty a
// random 5-digit gallery id is allocated.
func (c *Client) CreateUser(ctx context.Context, user *model.User) error {
	emailKey := userEmailKey(user.Email)
	ok, err := c.SetNX(ctx, emailKey, user.ID, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrEmailTaken
	}

	allocated := user.ID == ""
	if err := c.claimUserKey(ctx, user); err != nil {
		c.Del(ctx, emailKey)
		return err
	}
	if allocated {
		if err := c.Set(ctx, emailKey, user.ID, 0).Err(); err != nil {
			return err
		}
	}
	return c.SAdd(ctx, usersKey, user.ID).Err()
}

func (c *Client) claimUserKey(ctx context.Context, user *model.User) error {
	if user.ID != "" {
		return c.setUserNX(ctx, user)
	}
	for i := 0; i < maxAllocAttempts; i++ {
		user.ID = strconv.Itoa(10000 + rand.Intn(90000))
		err := c.setUserNX(ctx, user)
		if !errors.Is(err, ErrGalleryTaken) {
			return err
		}
	}
	user.ID = ""
	return ErrGalleryTaken
}

func (c *Client) setUserNX(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	ok, err := c.SetNX(ctx, userKey(user.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrGalleryTaken
	}
	return nil
}

func (c *Client) SaveUser(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return c.Set(ctx, userKey(user.ID), data, 0).Err()
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	data, err := c.Get(ctx, userKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	id, err := c.Get(ctx, userEmailKey(email)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.GetUser(ctx, id)
}

func (c *Client) ListUserIDs(ctx context.Context) ([]string, error) {
	return c.SMembers(ctx, usersKey).Result()
}

// DeleteUser removes the user document and indexes. Collections and images
// must already be gone.
func (c *Client) DeleteUser(ctx context.Context, user *model.User) error {
	_, err := c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userKey(user.ID), userEmailKey(user.Email),
			userCollectionsKey(user.ID), userImagesKey(user.ID))
		pipe.SRem(ctx, usersKey, user.ID)
		return nil
	})
	return err
}

func (c *Client) SaveResetToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	return c.Set(ctx, resetKey(token), userID, ttl).Err()
}

// ConsumeResetToken returns the user id for token and deletes it. An unknown
// or expired token yields "".
func (c *Client) ConsumeResetToken(ctx context.Context, token string) (string, error) {
	id, err := c.GetDel(ctx, resetKey(token)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

// LockFile takes the lock that orders reference changes and disk writes for
// one stored file across instances. It waits until the lock is free or ctx is
// done and returns the function that releases it. A lock whose holder died
// expires after fileLockTTL.
func (c *Client) LockFile(ctx context.Context, filename string) (func(), error) {
	key := fileLockKey(filename)
	token := strconv.FormatUint(rand.Uint64(), 36)
	for {
		ok, err := c.SetNX(ctx, key, token, fileLockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fileLockRetry):
		}
	}
	return func() {
		if err := unlockScript.Run(context.Background(), c.Client, []string{key}, token).Err(); err != nil {
			slog.Error("Failed to unlock file", "file", filename, "error", err)
		}
	}, nil
}

// RetainFile counts one more image referencing a stored upload.
func (c *Client) RetainFile(ctx context.Context, filename string) error {
	return c.Incr(ctx, fileRefsKey(filename)).Err()
}

// ReleaseFile drops one reference and returns how many remain.
func (c *Client) ReleaseFile(ctx context.Context, filename string) (int64, error) {
	n, err := c.Decr(ctx, fileRefsKey(filename)).Result()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		if err := c.Del(ctx, fileRefsKey(filename)).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return n, nil
}

func containsQuery(str, query string) bool {
	return strings.Contains(strings.ToLower(str), strings.ToLower(query))
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return &v, nil
}
