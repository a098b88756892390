package shared

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_ScanNullIsZero(t *testing.T) {
	id := NewID()
	require.NoError(t, id.Scan(nil))
	assert.True(t, id.IsZero())

	v, err := id.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestID_ScanString(t *testing.T) {
	want := NewID()
	var got ID
	require.NoError(t, got.Scan(want.String()))
	assert.True(t, want.Equals(got))

	require.NoError(t, got.Scan([]byte(want.String())))
	assert.True(t, want.Equals(got))

	assert.Error(t, got.Scan(42))
}

func TestID_JSON(t *testing.T) {
	type wrapper struct {
		AgencyID ID `json:"agency_id"`
	}
	in := wrapper{AgencyID: NewID()}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), in.AgencyID.String())

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.AgencyID.Equals(out.AgencyID))

	assert.Error(t, json.Unmarshal([]byte(`{"agency_id":"nope"}`), &out))
}

func TestIDFromString(t *testing.T) {
	_, err := IDFromString("not-a-uuid")
	assert.Error(t, err)
	assert.Panics(t, func() { MustIDFromString("bad") })
}

func TestErrorCode(t *testing.T) {
	err := NewDomainError("JOB_NOT_PENDING", "job is not pending", ErrConflict)
	assert.Equal(t, "JOB_NOT_PENDING", ErrorCode(err))
	assert.True(t, IsConflict(err))
	assert.Equal(t, "", ErrorCode(ErrNotFound))
}
