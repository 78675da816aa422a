package schemas

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderMapClone(t *testing.T) {
	orig := HeaderMap{"Authorization": "t1", "Accept": "*/*"}
	clone := orig.Clone()

	clone["Authorization"] = "t2"
	assert.Equal(t, "t1", orig["Authorization"], "mutating the clone must not touch the original")

	var nilMap HeaderMap
	cloned := nilMap.Clone()
	require.NotNil(t, cloned)
	cloned["x"] = "y" // must be writable
}

func TestRequestRecordClone(t *testing.T) {
	rec := RequestRecord{
		URL:            "https://a.com/x",
		Method:         "POST",
		RequestHeaders: HeaderMap{"Content-Type": "application/json"},
		RequestBody:    []byte(`{"v":1}`),
		Response: ResponseRecord{
			Status:  200,
			Headers: HeaderMap{"Set-Cookie": "sid=1"},
			Body:    []byte("ok"),
		},
		ObservedAt: time.Now(),
	}

	clone := rec.Clone()
	clone.RequestHeaders["Content-Type"] = "text/plain"
	clone.RequestBody[0] = 'X'
	clone.Response.Headers["Set-Cookie"] = "sid=2"
	clone.Response.Body[0] = 'K'

	assert.Equal(t, "application/json", rec.RequestHeaders["Content-Type"])
	assert.Equal(t, byte('{'), rec.RequestBody[0])
	assert.Equal(t, "sid=1", rec.Response.Headers["Set-Cookie"])
	assert.Equal(t, byte('o'), rec.Response.Body[0])
}

func TestRequestRecordJSONRoundTrip(t *testing.T) {
	rec := RequestRecord{
		URL:            "https://a.com/api/session",
		Method:         "POST",
		RequestHeaders: HeaderMap{"authorization": "Bearer t1"},
		RequestBody:    []byte(`{"user":"alice"}`),
		Response: ResponseRecord{
			Status:  201,
			Headers: HeaderMap{"content-type": "application/json"},
			Body:    []byte(`{"ok":true}`),
		},
		ObservedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded RequestRecord
	require.NoError(t, json.Unmarshal(data, &decoded))

	if diff := cmp.Diff(rec, decoded); diff != "" {
		t.Errorf("Round trip failed. Diff:\n%s", diff)
	}
}
