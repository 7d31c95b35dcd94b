package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRouterOwnership(t *testing.T) {
	router := newSessionRouter()

	router.bind(&sessionBinding{sessionID: "s1", clientID: "client-a", targetID: "t1"})
	router.bind(&sessionBinding{sessionID: "s2", clientID: "client-b", targetID: "t1"})

	assert.Equal(t, "client-a", router.owner("s1"))
	assert.Equal(t, "client-b", router.owner("s2"))
	assert.Equal(t, "", router.owner("s3"), "unknown sessions have no owner")

	assert.True(t, router.owns("client-a", "s1"))
	assert.False(t, router.owns("client-a", "s2"))
	assert.False(t, router.owns("client-a", "s3"))
}

func TestSessionRouterUnbind(t *testing.T) {
	router := newSessionRouter()
	router.bind(&sessionBinding{sessionID: "s1", clientID: "client-a"})

	b := router.unbind("s1")
	require.NotNil(t, b)
	assert.Equal(t, "client-a", b.clientID)
	assert.Nil(t, router.unbind("s1"))
	assert.Empty(t, router.sessionsOf("client-a"))
}

func TestSessionRouterRemoveClient(t *testing.T) {
	router := newSessionRouter()
	router.bind(&sessionBinding{sessionID: "s1", clientID: "client-a"})
	router.bind(&sessionBinding{sessionID: "s2", clientID: "client-a"})
	router.bind(&sessionBinding{sessionID: "s3", clientID: "client-b"})

	removed := router.removeClient("client-a")
	assert.Len(t, removed, 2)
	assert.Equal(t, "", router.owner("s1"))
	assert.Equal(t, "client-b", router.owner("s3"))
}

func TestSessionRouterClear(t *testing.T) {
	router := newSessionRouter()
	router.bind(&sessionBinding{sessionID: "s1", clientID: "client-a"})
	router.bind(&sessionBinding{sessionID: "s2", clientID: "client-b"})

	cleared := router.clear()
	assert.Len(t, cleared, 2)
	assert.Equal(t, "", router.owner("s1"))
	assert.Empty(t, router.sessionsOf("client-a"))
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newSessionID()
		require.Len(t, id, 32)
		for _, c := range id {
			require.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'),
				"session id %q is not lowercase hex", id)
		}
		require.False(t, seen[id], "session ids must not repeat")
		seen[id] = true
	}
}
