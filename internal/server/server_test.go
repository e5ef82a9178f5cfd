package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"timetablecal/internal/calendar"
	"timetablecal/internal/ocr"
	"timetablecal/internal/timetable"
)

// mockOCR returns canned text or a canned error.
type mockOCR struct {
	text string
	err  error
}

func (m *mockOCR) ProcessImage(_ context.Context, _ io.Reader) (string, error) {
	return m.text, m.err
}

func (m *mockOCR) ProcessImageWithMetadata(_ context.Context, _ io.Reader) (*ocr.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &ocr.Result{Text: m.text, Engine: "mock"}, nil
}

// mockParser returns canned sections or a canned error.
type mockParser struct {
	sections []timetable.Section
	err      error
	gotText  string
}

func (m *mockParser) Parse(_ context.Context, text string) ([]timetable.Section, error) {
	m.gotText = text
	return m.sections, m.err
}

// mockWriter records what it was asked to create.
type mockWriter struct {
	created  int
	err      error
	received []timetable.Section
}

func (m *mockWriter) CreateEvents(_ context.Context, sections []timetable.Section) (int, error) {
	m.received = sections
	return m.created, m.err
}

func writerFactory(w calendar.Writer, err error) WriterFactory {
	return func(context.Context) (calendar.Writer, error) {
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

func section(crn string) timetable.Section {
	return timetable.Section{
		CRN:      crn,
		Code:     "CS-2114",
		Name:     "Softw Des & Data Structures",
		Days:     []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		Begin:    timetable.Clock{Hour: 9, Minute: 5},
		End:      timetable.Clock{Hour: 9, Minute: 55},
		Location: "MCB 113",
		TermYear: "202509",
	}
}

// imageUpload builds a multipart request with one PNG-flavored file part.
func imageUpload(t *testing.T, path, contentType string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="timetable.png"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	srv := New(&mockOCR{}, &mockParser{}, writerFactory(nil, nil), nil, "")

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	srv := New(&mockOCR{}, &mockParser{}, writerFactory(nil, nil), nil, "")

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestUpload(t *testing.T) {
	t.Run("success returns parsed sections", func(t *testing.T) {
		parser := &mockParser{sections: []timetable.Section{section("83488")}}
		srv := New(&mockOCR{text: "83488 CS-2114"}, parser, writerFactory(nil, nil), nil, "")

		resp, err := srv.App().Test(imageUpload(t, "/upload", "image/png"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[uploadResponse](t, resp)
		require.Len(t, body.Sections, 1)
		assert.Equal(t, "83488", body.Sections[0].CRN)
		assert.Equal(t, "83488 CS-2114", parser.gotText)
	})

	t.Run("missing file field", func(t *testing.T) {
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(nil, nil), nil, "")

		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		resp, err := srv.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("non-image upload rejected", func(t *testing.T) {
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(nil, nil), nil, "")

		resp, err := srv.App().Test(imageUpload(t, "/upload", "application/pdf"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		body := decode[errorResponse](t, resp)
		assert.Equal(t, "file provided is not an image", body.Error)
	})

	t.Run("ocr empty text is a caller error", func(t *testing.T) {
		srv := New(&mockOCR{err: ocr.NewOCRError("ProcessImage", ocr.ErrEmptyText, "")},
			&mockParser{}, writerFactory(nil, nil), nil, "")

		resp, err := srv.App().Test(imageUpload(t, "/upload", "image/png"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("missing engine is unavailable", func(t *testing.T) {
		srv := New(&mockOCR{err: ocr.NewOCRError("ProcessImage", ocr.ErrEngineUnavailable, "")},
			&mockParser{}, writerFactory(nil, nil), nil, "")

		resp, err := srv.App().Test(imageUpload(t, "/upload", "image/png"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("parse failure returns raw text", func(t *testing.T) {
		parser := &mockParser{err: timetable.WrapParseError("Parse", timetable.ErrNoSections, "")}
		srv := New(&mockOCR{text: "blurry nonsense"}, parser, writerFactory(nil, nil), nil, "")

		resp, err := srv.App().Test(imageUpload(t, "/upload", "image/png"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		body := decode[errorResponse](t, resp)
		assert.Equal(t, "blurry nonsense", body.RawText)
	})
}

func eventsRequestBody(t *testing.T, sections []timetable.Section) *http.Request {
	t.Helper()
	data, err := json.Marshal(eventsRequest{Sections: sections})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCreateEvents(t *testing.T) {
	t.Run("creates one event per unique section", func(t *testing.T) {
		writer := &mockWriter{created: 2}
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(writer, nil), nil, "")

		other := section("91234")
		other.Code = "MATH-2204"
		// One duplicate in the batch; the writer sees the deduped list.
		req := eventsRequestBody(t, []timetable.Section{section("83488"), section("83488"), other})

		resp, err := srv.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[eventsResponse](t, resp)
		assert.Equal(t, 2, body.EventsCreated)
		assert.Len(t, writer.received, 2)
	})

	t.Run("resubmitting a batch creates events again", func(t *testing.T) {
		writer := &mockWriter{created: 1}
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(writer, nil), nil, "")

		for i := 0; i < 2; i++ {
			resp, err := srv.App().Test(eventsRequestBody(t, []timetable.Section{section("83488")}))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			body := decode[eventsResponse](t, resp)
			assert.Equal(t, 1, body.EventsCreated)
		}
	})

	t.Run("empty section list rejected", func(t *testing.T) {
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(&mockWriter{}, nil), nil, "")

		resp, err := srv.App().Test(eventsRequestBody(t, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("unauthorized without a stored token", func(t *testing.T) {
		factory := writerFactory(nil, calendar.WrapWriteError("newWriter", calendar.ErrNotAuthorized, ""))
		srv := New(&mockOCR{}, &mockParser{}, factory, nil, "")

		resp, err := srv.App().Test(eventsRequestBody(t, []timetable.Section{section("83488")}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("api failure maps to bad gateway", func(t *testing.T) {
		writer := &mockWriter{created: 1, err: calendar.WrapWriteError("CreateEvents", calendar.ErrWriteFailed, "quota")}
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(writer, nil), nil, "")

		req := eventsRequestBody(t, []timetable.Section{section("83488"), section("91234")})
		resp, err := srv.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestSync(t *testing.T) {
	t.Run("upload through to calendar", func(t *testing.T) {
		parser := &mockParser{sections: []timetable.Section{section("83488"), section("83488")}}
		writer := &mockWriter{created: 1}
		srv := New(&mockOCR{text: "83488"}, parser, writerFactory(writer, nil), nil, "")

		resp, err := srv.App().Test(imageUpload(t, "/sync", "image/png"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[eventsResponse](t, resp)
		assert.Equal(t, 1, body.EventsCreated)
		assert.Len(t, writer.received, 1)
	})

	t.Run("parse failure stops before the calendar", func(t *testing.T) {
		parser := &mockParser{err: timetable.WrapParseError("Parse", timetable.ErrNoSections, "")}
		writer := &mockWriter{}
		srv := New(&mockOCR{text: "junk"}, parser, writerFactory(writer, nil), nil, "")

		resp, err := srv.App().Test(imageUpload(t, "/sync", "image/png"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Nil(t, writer.received)
	})
}

func TestGoogleAuth(t *testing.T) {
	t.Run("login without oauth config", func(t *testing.T) {
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(nil, nil), nil, "")

		resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/auth/google", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("login redirects to consent", func(t *testing.T) {
		cfg := &oauth2.Config{
			ClientID: "client-id",
			Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.google.com/o/oauth2/auth"},
		}
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(nil, nil), cfg, "")

		resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/auth/google", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Location"), "accounts.google.com")
		assert.Contains(t, resp.Header.Get("Location"), "access_type=offline")
	})

	t.Run("callback without code", func(t *testing.T) {
		cfg := &oauth2.Config{}
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(nil, nil), cfg, "")

		resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("callback exchanges the code and stores the token", func(t *testing.T) {
		tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"access-123","token_type":"Bearer","refresh_token":"refresh-456","expires_in":3600}`))
		}))
		defer tokenSrv.Close()

		tokenFile := filepath.Join(t.TempDir(), "token.json")
		cfg := &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{TokenURL: tokenSrv.URL},
		}
		srv := New(&mockOCR{}, &mockParser{}, writerFactory(nil, nil), cfg, tokenFile)

		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=consent-code", nil)
		resp, err := srv.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data, err := os.ReadFile(tokenFile)
		require.NoError(t, err)
		var token oauth2.Token
		require.NoError(t, json.Unmarshal(data, &token))
		assert.Equal(t, "access-123", token.AccessToken)
		assert.Equal(t, "refresh-456", token.RefreshToken)
	})
}
