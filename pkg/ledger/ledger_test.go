package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers from per-function handlers and counts calls.
type fakeGateway struct {
	invoke func(function string, args []string) (*Receipt, error)
	query  func(function string, args []string) (*QueryResult, error)
	calls  int
}

func (f *fakeGateway) Invoke(_ context.Context, function string, args []string) (*Receipt, error) {
	f.calls++
	if f.invoke == nil {
		return &Receipt{TxID: "tx_fake", Function: function, Args: args, Status: StatusSuccess}, nil
	}
	return f.invoke(function, args)
}

func (f *fakeGateway) Query(_ context.Context, function string, args []string) (*QueryResult, error) {
	f.calls++
	return f.query(function, args)
}

func TestQueryResultDecode(t *testing.T) {
	var rec BatchRecord

	plain := &QueryResult{Function: FnGetBatch, Data: json.RawMessage(`{"batchId":"B1","productName":"Tulsi"}`)}
	require.NoError(t, plain.Decode(&rec))
	assert.Equal(t, "Tulsi", rec.ProductName)

	wrapped := &QueryResult{Function: FnGetBatch, Data: json.RawMessage(`"{\"batchId\":\"B2\",\"species\":\"Neem\"}"`)}
	require.NoError(t, wrapped.Decode(&rec))
	assert.Equal(t, "B2", rec.BatchID)
	assert.Equal(t, "Neem", rec.Species)

	broken := &QueryResult{Function: FnGetBatch, Data: json.RawMessage(`{"batchId":`)}
	assert.Error(t, broken.Decode(&rec))
}

func TestDetailsKeepOrder(t *testing.T) {
	var d Details
	require.NoError(t, json.Unmarshal([]byte(`{"weight":"25.5 kg","species":"Ashwagandha","collector":"Rajesh Kumar"}`), &d))
	require.Len(t, d, 3)
	assert.Equal(t, []string{"weight", "species", "collector"}, []string{d[0].Key, d[1].Key, d[2].Key})

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"weight":"25.5 kg","species":"Ashwagandha","collector":"Rajesh Kumar"}`, string(out))
}

func TestDetailsNonStringValues(t *testing.T) {
	var d Details
	require.NoError(t, json.Unmarshal([]byte(`{"moisture":8.5,"organic":true,"lab":{"id":7}}`), &d))

	v, ok := d.Get("moisture")
	require.True(t, ok)
	assert.Equal(t, "8.5", v)
	v, _ = d.Get("organic")
	assert.Equal(t, "true", v)
	v, _ = d.Get("lab")
	assert.Equal(t, `{"id":7}`, v)
}

func TestDetailsArrayForm(t *testing.T) {
	var d Details
	require.NoError(t, json.Unmarshal([]byte(`[{"key":"b","value":"2"},{"key":"a","value":"1"}]`), &d))
	assert.Equal(t, Details{{"b", "2"}, {"a", "1"}}, d)
}

func TestDetailsNullAndInvalid(t *testing.T) {
	var d Details
	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.Nil(t, d)
	assert.Error(t, json.Unmarshal([]byte(`"text"`), &d))

	empty, err := json.Marshal(Details(nil))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))
}

func TestDetailsSet(t *testing.T) {
	d := Details{{"a", "1"}}
	d.Set("b", "2")
	d.Set("a", "3")
	assert.Equal(t, Details{{"a", "3"}, {"b", "2"}}, d)

	clone := d.Clone()
	clone.Set("a", "9")
	v, _ := d.Get("a")
	assert.Equal(t, "3", v)
}

func TestErrorKinds(t *testing.T) {
	nf := &NotFoundError{Function: FnGetBatch, Args: []string{"B"}}
	assert.True(t, errors.Is(nf, ErrNotFound))
	assert.False(t, IsTransport(nf))

	qe := &QueryError{Function: FnGetBatch, Reason: "dial tcp: refused", Transport: true}
	assert.True(t, IsTransport(qe))
	assert.False(t, errors.Is(qe, ErrNotFound))
	assert.Contains(t, qe.Error(), "transport")

	te := &TransactionError{Function: FnRecordStage, Reason: "endorsement failed"}
	assert.False(t, IsTransport(te))
	assert.Contains(t, te.Error(), "rejected")
}

func TestIsNotFoundMessage(t *testing.T) {
	assert.True(t, IsNotFoundMessage("batch B002 not found"))
	assert.True(t, IsNotFoundMessage("Batch B002 Not Found"))
	assert.True(t, IsNotFoundMessage("batch BATCH_9 does not exist"))
	assert.True(t, IsNotFoundMessage("transaction returned with failure: batch BATCH_9 does not exist"))
	assert.False(t, IsNotFoundMessage("endorsement policy failure"))
	assert.False(t, IsNotFoundMessage("chaincode herbionyx not found"))
	assert.False(t, IsNotFoundMessage("channel mychannel does not exist"))
	assert.False(t, IsNotFoundMessage("stage S1 does not exist"))
}
