package httpclient

import (
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieJar_SetGet(t *testing.T) {
	jar := NewCookieJar(newMemStore())

	require.NoError(t, jar.Set("a", "1"))
	require.NoError(t, jar.Update(NewPairs("b", "2", "c", "3")))

	v, ok := jar.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, NewPairs("a", "1", "b", "2", "c", "3"), jar.GetAll())
	assert.Equal(t, 3, jar.Len())
	assert.Equal(t, []string{"a", "b", "c"}, jar.Names())

	require.NoError(t, jar.Set("a", "changed"))
	v, _ = jar.Get("a")
	assert.Equal(t, "changed", v)

	_, ok = jar.Get("missing")
	assert.False(t, ok)
}

func TestCookieJar_Scope(t *testing.T) {
	store := newMemStore()
	jar := NewCookieJar(store)

	require.NoError(t, jar.Set("d", "1", CookieDomain(".example.com"), CookiePath("/api")))
	require.NoError(t, jar.Set("h", "2"))

	all := store.GetAllCookies()
	require.Len(t, all["example.com"], 1)
	assert.Equal(t, ".example.com", all["example.com"][0].Domain)
	assert.Equal(t, "/api", all["example.com"][0].Path)
	require.Len(t, all[defaultCookieDomain], 1)
	assert.Empty(t, all[defaultCookieDomain][0].Domain)

	// Hosts are visited in sorted order.
	assert.Equal(t, NewPairs("h", "2", "d", "1"), jar.GetAll())
}

func TestCookieJar_InvalidScope(t *testing.T) {
	jar := NewCookieJar(newMemStore())

	err := jar.Set("a", "1", CookieDomain("bad host"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Zero(t, jar.Len())
}

func TestCookieJar_DeleteAndRevive(t *testing.T) {
	store := newMemStore()
	jar := NewCookieJar(store)
	require.NoError(t, jar.Update(NewPairs("a", "1", "b", "2")))

	require.NoError(t, jar.Delete("a"))

	_, ok := jar.Get("a")
	assert.False(t, ok, "deleted cookie stays hidden")
	assert.Equal(t, NewPairs("b", "2"), jar.GetAll())

	// The store still enumerates the expired record.
	stored := store.Cookies(&url.URL{Scheme: "http", Host: defaultCookieDomain})
	require.Len(t, stored, 2)
	assert.Equal(t, "", stored[0].Value)

	require.NoError(t, jar.Set("a", "3"))
	v, ok := jar.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestCookieJar_Clear(t *testing.T) {
	jar := NewCookieJar(newMemStore())
	require.NoError(t, jar.Update(NewPairs("a", "1", "b", "2")))
	require.NoError(t, jar.Set("c", "3", CookieDomain("other.example")))

	require.NoError(t, jar.Clear())

	assert.Empty(t, jar.GetAll())
	for _, name := range []string{"a", "b", "c"} {
		_, ok := jar.Get(name)
		assert.False(t, ok, name)
	}

	// Clearing an empty jar is a no-op.
	require.NoError(t, NewCookieJar(newMemStore()).Clear())
}

func TestCookieJar_Compact(t *testing.T) {
	store := newMemStore()
	jar := NewCookieJar(store)
	require.NoError(t, jar.Update(NewPairs("a", "1", "b", "2")))
	require.NoError(t, jar.Delete("a"))

	assert.Zero(t, jar.Compact(), "name still stored keeps its tombstone")
	_, ok := jar.Get("a")
	assert.False(t, ok)

	store.mu.Lock()
	store.byHost = map[string][]*http.Cookie{}
	store.mu.Unlock()

	assert.Equal(t, 1, jar.Compact())
	assert.Zero(t, jar.Compact())
}

func TestCookieJar_Persist(t *testing.T) {
	tests := []struct {
		name    string
		cookie  *http.Cookie
		wantOK  bool
		wantVal string
	}{
		{
			name:    "given a live cookie, then it is visible",
			cookie:  &http.Cookie{Name: "sid", Value: "abc"},
			wantOK:  true,
			wantVal: "abc",
		},
		{
			name:   "given a negative max-age, then it is tombstoned",
			cookie: &http.Cookie{Name: "sid", Value: "", MaxAge: -1},
			wantOK: false,
		},
		{
			name:   "given an expiry in the past, then it is tombstoned",
			cookie: &http.Cookie{Name: "sid", Value: "old", Expires: time.Now().Add(-time.Hour)},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jar := NewCookieJar(newMemStore())
			require.NoError(t, jar.Set("sid", "seed"))

			jar.persist(&url.URL{Scheme: "https", Host: "example.com"}, []*http.Cookie{tt.cookie})

			v, ok := jar.Get("sid")
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantVal, v)
			}
		})
	}
}

func TestCookieJar_PersistRevivesDeleted(t *testing.T) {
	jar := NewCookieJar(newMemStore())
	require.NoError(t, jar.Set("sid", "1"))
	require.NoError(t, jar.Delete("sid"))

	jar.persist(&url.URL{Scheme: "https", Host: "example.com"}, []*http.Cookie{{Name: "sid", Value: "2"}})

	v, ok := jar.Get("sid")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	// Nothing to do without cookies or a URL.
	jar.persist(nil, []*http.Cookie{{Name: "x", Value: "1"}})
	jar.persist(&url.URL{Host: "example.com"}, nil)
	_, ok = jar.Get("x")
	assert.False(t, ok)
}

func TestCookieJar_Concurrent(t *testing.T) {
	jar := NewCookieJar(newMemStore())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "c" + strconv.Itoa(i%4)
			_ = jar.Set(name, strconv.Itoa(i))
			_, _ = jar.Get(name)
			if i%3 == 0 {
				_ = jar.Delete(name)
			}
			_ = jar.GetAll()
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, jar.Len(), 4)
}

// cookieBackends builds jars over the in-memory double and over the store a
// client uses when no backend is configured.
func cookieBackends() []struct {
	name   string
	newJar func(t *testing.T) *CookieJar
} {
	return []struct {
		name   string
		newJar func(t *testing.T) *CookieJar
	}{
		{
			name:   "memory store",
			newJar: func(*testing.T) *CookieJar { return NewCookieJar(newMemStore()) },
		},
		{
			name: "default store",
			newJar: func(t *testing.T) *CookieJar {
				t.Setenv(envProxy, "")
				c, err := New(WithMockEngine(NewMockEngine()), WithLogger(zerolog.Nop()))
				require.NoError(t, err)
				t.Cleanup(c.Close)
				return c.Cookies()
			},
		},
	}
}

func TestCookieJar_Backends(t *testing.T) {
	for _, backend := range cookieBackends() {
		t.Run(backend.name, func(t *testing.T) {
			t.Run("given a batch, then its order is kept", func(t *testing.T) {
				jar := backend.newJar(t)

				require.NoError(t, jar.Update(NewPairs("a", "1", "b", "2", "c", "3")))

				assert.Equal(t, NewPairs("a", "1", "b", "2", "c", "3"), jar.GetAll())
				assert.Equal(t, "a=1; b=2; c=3", jar.GetAll().CookieHeader())
			})

			t.Run("given a deleted cookie set to empty, then the empty value is visible", func(t *testing.T) {
				jar := backend.newJar(t)
				require.NoError(t, jar.Set("a", "1"))
				require.NoError(t, jar.Delete("a"))

				require.NoError(t, jar.Set("a", ""))

				v, ok := jar.Get("a")
				assert.True(t, ok)
				assert.Empty(t, v)
			})

			t.Run("given a value overwritten with empty, then the old value is gone", func(t *testing.T) {
				jar := backend.newJar(t)
				require.NoError(t, jar.Set("b", "2"))

				require.NoError(t, jar.Set("b", ""))

				v, ok := jar.Get("b")
				assert.True(t, ok)
				assert.Empty(t, v)
			})

			t.Run("given a deleted cookie, then it stays hidden until set again", func(t *testing.T) {
				jar := backend.newJar(t)
				require.NoError(t, jar.Update(NewPairs("a", "1", "b", "2")))

				require.NoError(t, jar.Delete("a"))
				_, ok := jar.Get("a")
				assert.False(t, ok)
				assert.Equal(t, NewPairs("b", "2"), jar.GetAll())

				require.NoError(t, jar.Set("a", "3"))
				v, ok := jar.Get("a")
				assert.True(t, ok)
				assert.Equal(t, "3", v)
			})

			t.Run("given clear, then nothing is visible", func(t *testing.T) {
				jar := backend.newJar(t)
				require.NoError(t, jar.Update(NewPairs("a", "1", "b", "2")))

				require.NoError(t, jar.Clear())

				assert.Empty(t, jar.GetAll())
				assert.Zero(t, jar.Len())
			})
		})
	}
}
