package timestamps

import (
	"context"
	"crypto"
	"encoding/asn1"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/gobdoc/internal/testpki"
)

const tsaURL = "http://tsa.test/"

var genTime = time.Date(2016, 5, 6, 7, 8, 9, 0, time.UTC)

func newDummy(t *testing.T) *DummyTimeStamper {
	t.Helper()
	tsa := testpki.NewRoot(t, "TSA Root").NewTSA(t, "Dummy TSA")
	return NewDummyTimeStamper(tsa.Cert, tsa.Key).WithClock(clockwork.NewFakeClockAt(genTime.Add(300 * time.Millisecond)))
}

func serve(dummy *DummyTimeStamper) (*httpmock.MockTransport, *http.Client) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodPost, tsaURL, func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Content-Type") != "application/timestamp-query" {
			return httpmock.NewStringResponse(http.StatusUnsupportedMediaType, ""), nil
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		resp, err := dummy.HandleRequest(body)
		if err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		return httpmock.NewBytesResponse(http.StatusOK, resp), nil
	})
	return mock, &http.Client{Transport: mock}
}

func TestHTTPTimestamper(t *testing.T) {
	dummy := newDummy(t)
	mock, client := serve(dummy)
	data := []byte("signature value")

	token, err := NewHTTPTimestamper(tsaURL, client).Timestamp(context.Background(), data)
	require.NoError(t, err)
	require.NoError(t, VerifyTimestamp(token, data))
	assert.ErrorIs(t, VerifyTimestamp(token, []byte("other")), ErrTimestampMismatch)

	at, err := GenTime(token)
	require.NoError(t, err)
	assert.True(t, genTime.Equal(at), "gen time %s", at)

	ts, err := ParseToken(token)
	require.NoError(t, err)
	require.NotEmpty(t, ts.Certificates)
	assert.Equal(t, dummy.TSACert.Raw, ts.Certificates[0].Raw)
	assert.Equal(t, 1, mock.GetTotalCallCount())
	assert.Equal(t, 1, dummy.Calls())
}

func TestHTTPTimestamperCredentials(t *testing.T) {
	dummy := newDummy(t)
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodPost, tsaURL, func(req *http.Request) (*http.Response, error) {
		user, pass, ok := req.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
		}
		body, _ := io.ReadAll(req.Body)
		resp, err := dummy.HandleRequest(body)
		if err != nil {
			return nil, err
		}
		return httpmock.NewBytesResponse(http.StatusOK, resp), nil
	})

	ts := NewHTTPTimestamper(tsaURL, &http.Client{Transport: mock})
	_, err := ts.Timestamp(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrTimestampFailed)

	ts.SetCredentials("user", "pass")
	_, err = ts.Timestamp(context.Background(), []byte("x"))
	assert.NoError(t, err)
}

func TestHTTPTimestamperServerError(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodPost, tsaURL, httpmock.NewStringResponder(http.StatusInternalServerError, "down"))

	_, err := NewHTTPTimestamper(tsaURL, &http.Client{Transport: mock}).Timestamp(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrTimestampFailed)
}

func TestParseTimestampResponse(t *testing.T) {
	dummy := newDummy(t)
	data := []byte("payload")
	resp, err := dummy.Respond(data)
	require.NoError(t, err)

	_, err = ParseTimestampResponse(resp, data, crypto.SHA256)
	require.NoError(t, err)

	_, err = ParseTimestampResponse(resp, []byte("tampered"), crypto.SHA256)
	assert.ErrorIs(t, err, ErrTimestampMismatch)

	rejected, err := asn1.Marshal(TimeStampResp{Status: PKIStatusInfo{Status: 2, StatusString: []string{"bad request"}}})
	require.NoError(t, err)
	_, err = ParseTimestampResponse(rejected, data, crypto.SHA256)
	assert.ErrorIs(t, err, ErrTimestampRejected)

	_, err = ParseTimestampResponse([]byte("junk"), data, crypto.SHA256)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestCreateTimestampRequest(t *testing.T) {
	req, err := CreateTimestampRequest([]byte("data"), nil)
	require.NoError(t, err)

	dummy := newDummy(t)
	resp, err := dummy.HandleRequest(req)
	require.NoError(t, err)
	_, err = ParseTimestampResponse(resp, []byte("data"), crypto.SHA256)
	assert.NoError(t, err)

	_, err = dummy.HandleRequest([]byte("junk"))
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestDummyTimestampCancelled(t *testing.T) {
	dummy := newDummy(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dummy.Timestamp(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, dummy.Calls())
}
