package gallery

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/notes-bin/crystal/internal/model"
	"github.com/notes-bin/crystal/internal/redis"
	"github.com/notes-bin/crystal/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
	// onPublish, when set, runs after each event is recorded.
	onPublish func(model.Event)
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	hook := p.onPublish
	p.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return nil
}

func (p *recordingPublisher) hook(fn func(model.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPublish = fn
}

// topics returns the topics events of typ were published on.
func (p *recordingPublisher) topics(typ string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var topics []string
	for _, ev := range p.events {
		if ev.Type == typ {
			topics = append(topics, ev.Topic)
		}
	}
	return topics
}

type fixture struct {
	svc     *Service
	redis   *redis.Client
	storage *storage.Storage
	pub     *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := redis.NewClient(mr.Addr(), "", 0, 5)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	st, err := storage.NewStorage(t.TempDir(), 1<<20)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	return &fixture{
		svc:     NewService(rc, st, pub, "http://localhost:8080/"),
		redis:   rc,
		storage: st,
		pub:     pub,
	}
}

// register stores a user and returns the matching actor.
func (f *fixture) register(t *testing.T, gid string, admin bool) Actor {
	t.Helper()
	u := &model.User{ID: gid, UID: "uid-" + gid, Email: gid + "@example.com", IsAdmin: admin, CreatedAt: time.Now()}
	require.NoError(t, f.redis.CreateUser(context.Background(), u))
	return Actor{UserID: gid, UID: u.UID, IsAdmin: admin}
}

func (f *fixture) addURL(t *testing.T, actor Actor, name string, collectionID *string) *model.Image {
	t.Helper()
	img, err := f.svc.AddImageURL(context.Background(), actor, ImageInput{
		URL:          "https://images.example.com/" + name + ".jpg",
		Name:         name,
		CollectionID: collectionID,
	})
	require.NoError(t, err)
	return img
}

func (f *fixture) count(t *testing.T, collectionID string) int64 {
	t.Helper()
	col, err := f.svc.GetCollection(context.Background(), collectionID)
	require.NoError(t, err)
	return col.ImageCount
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for x := 0; x < 640; x += 7 {
		img.Set(x, x%480, color.RGBA{200, 10, 10, 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	bob := f.register(t, "bob", false)

	t.Run("name is required", func(t *testing.T) {
		_, err := f.svc.CreateCollection(ctx, alice, CollectionInput{Name: "   "})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	col, err := f.svc.CreateCollection(ctx, alice, CollectionInput{Name: " Travel ", Description: "trips"})
	require.NoError(t, err)
	assert.Equal(t, "Travel", col.Name)
	assert.Equal(t, model.DefaultTheme(), col.Theme)
	assert.Equal(t, []string{"gallery:alice"}, f.pub.topics(model.EventCollectionCreated))

	t.Run("only the owner updates", func(t *testing.T) {
		name := "Stolen"
		_, err := f.svc.UpdateCollection(ctx, bob, col.ID, CollectionUpdate{Name: &name})
		assert.ErrorIs(t, err, ErrForbidden)

		theme := model.Theme{Primary: "from-red-500"}
		updated, err := f.svc.UpdateCollection(ctx, alice, col.ID, CollectionUpdate{Theme: &theme})
		require.NoError(t, err)
		assert.Equal(t, "Travel", updated.Name)
		assert.Equal(t, "from-red-500", updated.Theme.Primary)
	})

	t.Run("list for unknown gallery", func(t *testing.T) {
		_, err := f.svc.ListCollections(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete removes images first", func(t *testing.T) {
		f.addURL(t, alice, "a", &col.ID)
		f.addURL(t, alice, "b", &col.ID)
		loose := f.addURL(t, alice, "c", nil)

		require.NoError(t, f.svc.DeleteCollection(ctx, alice, col.ID))

		_, err := f.svc.GetCollection(ctx, col.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		images, err := f.svc.ListImages(ctx, "alice", "", 0, 0)
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, loose.ID, images[0].ID)
		assert.Len(t, f.pub.topics(model.EventImageDeleted), 6) // image, gallery and collection topic per image
	})

	t.Run("image added while deleting", func(t *testing.T) {
		busy, err := f.svc.CreateCollection(ctx, alice, CollectionInput{Name: "Busy"})
		require.NoError(t, err)
		f.addURL(t, alice, "first", &busy.ID)

		var late *model.Image
		f.pub.hook(func(ev model.Event) {
			if ev.Type != model.EventImageDeleted || late != nil {
				return
			}
			late, err = f.svc.AddImageURL(ctx, alice, ImageInput{URL: "https://images.example.com/late.jpg", CollectionID: &busy.ID})
			require.NoError(t, err)
		})
		defer f.pub.hook(nil)

		require.NoError(t, f.svc.DeleteCollection(ctx, alice, busy.ID))
		require.NotNil(t, late)

		_, err = f.svc.GetImage(ctx, late.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.svc.GetCollection(ctx, busy.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestImageCountAcrossMoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	bob := f.register(t, "bob", false)

	a, err := f.svc.CreateCollection(ctx, alice, CollectionInput{Name: "A"})
	require.NoError(t, err)
	b, err := f.svc.CreateCollection(ctx, alice, CollectionInput{Name: "B"})
	require.NoError(t, err)

	img := f.addURL(t, alice, "sunset", &a.ID)
	assert.EqualValues(t, 1, f.count(t, a.ID))

	to := &b.ID
	_, err = f.svc.UpdateImage(ctx, alice, img.ID, ImageUpdate{CollectionID: &to})
	require.NoError(t, err)
	assert.EqualValues(t, 0, f.count(t, a.ID))
	assert.EqualValues(t, 1, f.count(t, b.ID))
	assert.ElementsMatch(t,
		[]string{"image:" + img.ID, "gallery:alice", "collection:" + a.ID, "collection:" + b.ID},
		f.pub.topics(model.EventImageUpdated))

	var none *string
	_, err = f.svc.UpdateImage(ctx, alice, img.ID, ImageUpdate{CollectionID: &none})
	require.NoError(t, err)
	assert.EqualValues(t, 0, f.count(t, b.ID))

	t.Run("cannot move into a foreign collection", func(t *testing.T) {
		foreign, err := f.svc.CreateCollection(ctx, bob, CollectionInput{Name: "Bob's"})
		require.NoError(t, err)
		to := &foreign.ID
		_, err = f.svc.UpdateImage(ctx, alice, img.ID, ImageUpdate{CollectionID: &to})
		assert.ErrorIs(t, err, ErrForbidden)

		_, err = f.svc.AddImageURL(ctx, alice, ImageInput{URL: "https://x.example.com/1.png", CollectionID: &foreign.ID})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("delete decrements", func(t *testing.T) {
		second := f.addURL(t, alice, "second", &a.ID)
		assert.EqualValues(t, 1, f.count(t, a.ID))
		require.NoError(t, f.svc.DeleteImage(ctx, alice, second.ID))
		assert.EqualValues(t, 0, f.count(t, a.ID))
	})
}

func TestAddImageURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)

	for _, raw := range []string{"", "not a url", "/relative.png", "ftp://example.com/a.png", "https://"} {
		_, err := f.svc.AddImageURL(ctx, alice, ImageInput{URL: raw})
		assert.ErrorIs(t, err, ErrInvalid, raw)
	}

	img, err := f.svc.AddImageURL(ctx, alice, ImageInput{URL: "https://example.com/a.png"})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultImageName, img.Name)
	assert.Nil(t, img.CollectionID)

	missing := "missing"
	_, err = f.svc.AddImageURL(ctx, alice, ImageInput{URL: "https://example.com/a.png", CollectionID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddImageFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	data := pngBytes(t)

	first, err := f.svc.AddImageFile(ctx, alice, bytes.NewReader(data), "holiday.png", ImageInput{})
	require.NoError(t, err)
	assert.Equal(t, "holiday", first.Name)
	assert.Equal(t, "http://localhost:8080/files/"+first.Filename, first.URL)
	assert.Equal(t, first.URL+"/thumbnail", first.ThumbnailURL)
	assert.True(t, f.storage.Exists(storage.ThumbnailName(first.Filename)))

	second, err := f.svc.AddImageFile(ctx, alice, bytes.NewReader(data), "copy.png", ImageInput{Name: "Copy"})
	require.NoError(t, err)
	assert.Equal(t, first.Filename, second.Filename)

	t.Run("file stays while referenced", func(t *testing.T) {
		require.NoError(t, f.svc.DeleteImage(ctx, alice, first.ID))
		assert.True(t, f.storage.Exists(first.Filename))

		require.NoError(t, f.svc.DeleteImage(ctx, alice, second.ID))
		assert.False(t, f.storage.Exists(first.Filename))
		_, err := os.Stat(f.storage.GetFilePath(storage.ThumbnailName(first.Filename)))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("rejects other content", func(t *testing.T) {
		_, err := f.svc.AddImageFile(ctx, alice, bytes.NewReader([]byte("GIF89a....")), "a.gif", ImageInput{})
		assert.ErrorIs(t, err, storage.ErrUnsupportedType)
	})
}

func TestUploadDuringLastRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	data := pngBytes(t)

	first, err := f.svc.AddImageFile(ctx, alice, bytes.NewReader(data), "a.png", ImageInput{})
	require.NoError(t, err)

	// hold the file lock the way a release of the last reference does, and
	// upload the same bytes again meanwhile
	unlock, err := f.redis.LockFile(ctx, first.Filename)
	require.NoError(t, err)
	done := make(chan *model.Image, 1)
	go func() {
		img, err := f.svc.AddImageFile(ctx, alice, bytes.NewReader(data), "b.png", ImageInput{})
		assert.NoError(t, err)
		done <- img
	}()

	refs, err := f.redis.ReleaseFile(ctx, first.Filename)
	require.NoError(t, err)
	require.Zero(t, refs)
	require.NoError(t, f.storage.Remove(first.Filename))
	unlock()

	var second *model.Image
	select {
	case second = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not finish")
	}
	require.NotNil(t, second)
	assert.Equal(t, first.Filename, second.Filename)
	assert.True(t, f.storage.Exists(second.Filename), "the new image keeps its file")

	n, err := f.redis.Get(ctx, "file:"+second.Filename+":refs").Int()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListImages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)

	for _, name := range []string{"Beach day", "Mountain", "beach night"} {
		f.addURL(t, alice, name, nil)
	}

	all, err := f.svc.ListImages(ctx, "alice", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "beach night", all[0].Name)

	found, err := f.svc.ListImages(ctx, "alice", "BEACH", 0, 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "beach night", found[0].Name)

	_, err = f.svc.ListImages(ctx, "nobody", "", 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchDeleteImages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	bob := f.register(t, "bob", false)

	mine := f.addURL(t, alice, "mine", nil)
	theirs := f.addURL(t, bob, "theirs", nil)

	deleted, err := f.svc.BatchDeleteImages(ctx, alice, []string{mine.ID, theirs.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, deleted)

	_, err = f.svc.GetImage(ctx, theirs.ID)
	assert.NoError(t, err)
}

func TestLikes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	bob := f.register(t, "bob", false)
	img := f.addURL(t, alice, "pic", nil)

	status, err := f.svc.Like(ctx, bob, img.ID)
	require.NoError(t, err)
	assert.Equal(t, &LikeStatus{Liked: true, Count: 1}, status)

	status, err = f.svc.Like(ctx, bob, img.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, status.Count)
	assert.Len(t, f.pub.topics(model.EventLikeAdded), 2) // image and gallery topic, once

	status, err = f.svc.LikeStatus(ctx, alice, img.ID)
	require.NoError(t, err)
	assert.False(t, status.Liked)

	likes, err := f.svc.ListLikes(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, likes, 1)
	assert.Equal(t, "bob", likes[0].UserName)

	status, err = f.svc.Unlike(ctx, bob, img.ID)
	require.NoError(t, err)
	assert.Equal(t, &LikeStatus{Liked: false, Count: 0}, status)

	_, err = f.svc.Like(ctx, bob, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	bob := f.register(t, "bob", false)
	carol := f.register(t, "carol", false)
	img := f.addURL(t, alice, "pic", nil)

	t.Run("validates text", func(t *testing.T) {
		_, err := f.svc.AddComment(ctx, bob, img.ID, "  ")
		assert.ErrorIs(t, err, ErrInvalid)
		_, err = f.svc.AddComment(ctx, bob, img.ID, string(bytes.Repeat([]byte("x"), MaxTextLength+1)))
		assert.ErrorIs(t, err, ErrInvalid)
	})

	first, err := f.svc.AddComment(ctx, bob, img.ID, " nice ")
	require.NoError(t, err)
	assert.Equal(t, "nice", first.Text)
	second, err := f.svc.AddComment(ctx, bob, img.ID, "really")
	require.NoError(t, err)

	comments, err := f.svc.ListComments(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, first.ID, comments[0].ID)

	t.Run("who may delete", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.DeleteComment(ctx, carol, img.ID, first.ID), ErrForbidden)
		assert.NoError(t, f.svc.DeleteComment(ctx, bob, img.ID, first.ID))
		assert.NoError(t, f.svc.DeleteComment(ctx, alice, img.ID, second.ID))
		assert.ErrorIs(t, f.svc.DeleteComment(ctx, alice, img.ID, second.ID), ErrNotFound)
	})
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	col, err := f.svc.CreateCollection(ctx, alice, CollectionInput{Name: "A"})
	require.NoError(t, err)
	img := f.addURL(t, alice, "pic", &col.ID)

	for _, topic := range []string{model.GalleryTopic("alice"), model.CollectionTopic(col.ID), model.ImageTopic(img.ID)} {
		ev, err := f.svc.Snapshot(ctx, topic)
		require.NoError(t, err, topic)
		assert.Equal(t, model.EventSnapshot, ev.Type)
		assert.Equal(t, topic, ev.Topic)
		assert.Contains(t, string(ev.Data), img.ID)
	}

	_, err = f.svc.Snapshot(ctx, "weather:today")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = f.svc.Snapshot(ctx, model.ImageTopic("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	bob := f.register(t, "bob", false)
	admin := f.register(t, "root", true)

	col, err := f.svc.CreateCollection(ctx, alice, CollectionInput{Name: "A"})
	require.NoError(t, err)
	f.addURL(t, alice, "in", &col.ID)
	f.addURL(t, alice, "out", nil)

	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, bob, "alice"), ErrForbidden)
	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, admin, "root"), ErrForbidden)

	require.NoError(t, f.svc.DeleteAccount(ctx, alice, "alice"))
	_, err = f.svc.GetProfile(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := f.redis.Keys(ctx, "*alice*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)

	accounts, err := f.svc.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestStaleActor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	f.register(t, "bob", false)
	require.NoError(t, f.svc.DeleteAccount(ctx, alice, "alice"))

	_, err := f.svc.CreateCollection(ctx, alice, CollectionInput{Name: "Ghost"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.AddImageURL(ctx, alice, ImageInput{URL: "https://example.com/ghost.png"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	// someone else registers the freed gallery id
	next := &model.User{ID: "alice", UID: "uid-alice-2", Email: "new@example.com", CreatedAt: time.Now()}
	require.NoError(t, f.redis.CreateUser(ctx, next))

	_, err = f.svc.CreateCollection(ctx, alice, CollectionInput{Name: "Ghost"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.AddImageFile(ctx, alice, bytes.NewReader(pngBytes(t)), "ghost.png", ImageInput{})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.GetAccount(ctx, alice)
	assert.ErrorIs(t, err, ErrUnauthorized)
	title := "mine now"
	_, err = f.svc.UpdateProfile(ctx, alice, ProfileUpdate{Title: &title})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, alice, "alice"), ErrUnauthorized)

	g, err := f.svc.GetGallery(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, g.Collections)
	assert.Empty(t, g.Images)
	assert.Empty(t, g.Profile.Title)

	t.Run("admin flag comes from the account", func(t *testing.T) {
		resolved, err := f.svc.Resolve(ctx, Actor{UserID: "bob", UID: "uid-bob", IsAdmin: true})
		require.NoError(t, err)
		assert.False(t, resolved.IsAdmin)
	})
}

func TestRecountAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)
	col, err := f.svc.CreateCollection(ctx, alice, CollectionInput{Name: "A"})
	require.NoError(t, err)
	f.addURL(t, alice, "one", &col.ID)

	require.NoError(t, f.redis.Set(ctx, "collection:"+col.ID+":count", 7, 0).Err())

	fixed, err := f.svc.RecountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)
	assert.EqualValues(t, 1, f.count(t, col.ID))

	fixed, err = f.svc.RecountAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, fixed)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice", false)

	title := "  Alice's photos "
	account, err := f.svc.UpdateProfile(ctx, alice, ProfileUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Alice's photos", account.Title)
	assert.Equal(t, "alice@example.com", account.Email)

	profile, err := f.svc.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice's photos", profile.Title)
	assert.Equal(t, []string{"gallery:alice"}, f.pub.topics(model.EventProfileUpdated))
}
