package panel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door-panel-bridge/runtime/internal/panel"
)

func TestGenerateCode(t *testing.T) {
	for _, digits := range []int{4, 6, 9} {
		code, err := panel.GenerateCode(digits)
		require.NoError(t, err)
		assert.Len(t, code, digits)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}

	for _, digits := range []int{0, 3, 10} {
		_, err := panel.GenerateCode(digits)
		var valErr *panel.ValidationError
		assert.ErrorAs(t, err, &valErr, "digits=%d", digits)
	}
}

// tempCodeFake records request bodies per path.
type tempCodeFake struct {
	mu     sync.Mutex
	puts   []map[string]any
	posts  []map[string]any
	delete []string
}

func (f *tempCodeFake) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			http.SetCookie(w, &http.Cookie{Name: "ss-id", Value: "tok"})
			w.WriteHeader(http.StatusOK)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.posts = append(f.posts, body)
			w.Write([]byte(`{"UserId": 4711}`))
		case http.MethodPut:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.puts = append(f.puts, body)
			w.Write([]byte(`{}`))
		case http.MethodDelete:
			f.delete = append(f.delete, r.URL.Path)
			w.Write([]byte(`{}`))
		default:
			w.Write([]byte(`{"Results":[
				{"UserId":4711,"FirstName":"Cleaner","Code":"123456","StartedOn":"2026-08-30T08:00:00Z"},
				{"UserId":4712,"FirstName":"Courier","Code":"987654"}
			]}`))
		}
	})
}

func TestCreateTempCode(t *testing.T) {
	fake := &tempCodeFake{}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 3, 5)

	start := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	created, err := client.CreateTempCode(context.Background(), 12, "Cleaner", "123456", &start, nil)
	require.NoError(t, err)
	assert.Equal(t, 4711, created.UserID)
	assert.Equal(t, "123456", created.Code)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.posts, 1)
	body := fake.posts[0]
	assert.Equal(t, "Cleaner", body["FirstName"])
	assert.Equal(t, "123456", body["Code"])
	assert.Equal(t, float64(3), body["PartitionId"])
	assert.Equal(t, "2026-09-01T08:00:00Z", body["StartedOn"])
	_, hasExpiry := body["ExpiresOn"]
	assert.False(t, hasExpiry)
}

func TestCreateTempCode_RejectsNonNumeric(t *testing.T) {
	fake := &tempCodeFake{}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 3, 5)

	_, err := client.CreateTempCode(context.Background(), 12, "Bad", "12a4", nil, nil)
	var valErr *panel.ValidationError
	require.ErrorAs(t, err, &valErr)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.posts, "invalid codes never reach the panel")
}

func TestUpdateTempCode_NeverSendsPIN(t *testing.T) {
	fake := &tempCodeFake{}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 3, 5)

	end := time.Date(2026, 9, 2, 11, 0, 0, 0, time.UTC)
	require.NoError(t, client.UpdateTempCode(context.Background(), 4711, nil, &end))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.puts, 1)
	body := fake.puts[0]
	assert.Equal(t, float64(4711), body["UserId"])
	assert.Equal(t, "2026-09-02T11:00:00Z", body["ExpiresOn"])
	_, hasCode := body["Code"]
	assert.False(t, hasCode, "the PIN is immutable on update")
	_, hasName := body["FirstName"]
	assert.False(t, hasName)
}

func TestUpdateTempCode_RequiresABound(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "ss-id", Value: "tok"})
		w.Write([]byte(`{}`))
	}))
	client := panel.NewClient(session, 3, 5)

	err := client.UpdateTempCode(context.Background(), 4711, nil, nil)
	var valErr *panel.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestListTempCodes(t *testing.T) {
	fake := &tempCodeFake{}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 3, 5)

	codes, err := client.ListTempCodes(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "Cleaner", codes[0].CodeName)
	assert.Equal(t, 12, codes[0].DoorID)
	require.NotNil(t, codes[0].StartTime)
	assert.Nil(t, codes[0].EndTime)
}

func TestDeleteTempCodeByName(t *testing.T) {
	fake := &tempCodeFake{}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 3, 5)

	deleted, errs := client.DeleteTempCodeByName(context.Background(), 12, "Courier")
	assert.Empty(t, errs)
	assert.Equal(t, 1, deleted)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.delete, 1)
	assert.Equal(t, "/api/Doors/12/TempCodes/987654", fake.delete[0])
}

func TestDeleteTempCodeByName_UnknownName(t *testing.T) {
	fake := &tempCodeFake{}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 3, 5)

	deleted, errs := client.DeleteTempCodeByName(context.Background(), 12, "Nobody")
	assert.Equal(t, 0, deleted)
	require.Len(t, errs, 1)
	var valErr *panel.ValidationError
	assert.ErrorAs(t, errs[0], &valErr)
}

func TestClearTempCodes(t *testing.T) {
	fake := &tempCodeFake{}
	session, _ := newTestSession(t, fake.handler())
	client := panel.NewClient(session, 3, 5)

	deleted, errs := client.ClearTempCodes(context.Background(), 12)
	assert.Empty(t, errs)
	assert.Equal(t, 2, deleted)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.ElementsMatch(t, []string{
		"/api/Doors/12/TempCodes/123456",
		"/api/Doors/12/TempCodes/987654",
	}, fake.delete)
}
