package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/policy"
)

type fakeCalls struct {
	infos []call.Info
}

func (f *fakeCalls) ListCalls(context.Context) ([]call.Info, error) {
	return f.infos, nil
}

func (f *fakeCalls) GetCallInfo(_ context.Context, id int) (call.Info, error) {
	for _, info := range f.infos {
		if info.ID == id {
			return info, nil
		}
	}
	return call.Info{}, callerr.ForCall("GetCallInfo", callerr.KindNotFound, callerr.ReasonCallNotExist, id)
}

type fakeNetwork struct {
	rung     []call.Attributes
	answered []int
}

func (f *fakeNetwork) Ring(_ context.Context, attrs call.Attributes) (int, error) {
	if attrs.Number == "" {
		return 0, callerr.New("Ring", callerr.KindArgumentInvalid, callerr.ReasonInvalidNumber)
	}
	f.rung = append(f.rung, attrs)
	return len(f.rung), nil
}

func (f *fakeNetwork) RemoteAnswer(id int) error {
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeNetwork) RemoteHangUp(id int) error {
	return callerr.ForCall("RemoteHangUp", callerr.KindNotFound, callerr.ReasonCallNotExist, id)
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeNetwork, *policy.StaticEnvironment) {
	t.Helper()
	calls := &fakeCalls{infos: []call.Info{
		{ID: 1, Type: call.TypeCS, Direction: call.DirectionOutgoing, Number: "10086", TelState: call.StateActive},
		{ID: 2, Type: call.TypeCS, Direction: call.DirectionIncoming, Number: "10010", TelState: call.StateHolding},
	}}
	network := &fakeNetwork{}
	radio := policy.NewStaticEnvironment([]policy.SlotStatus{{SIMPresent: true, InService: true}}, false)
	ts := httptest.NewServer(NewServer(calls, network, radio, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, network, radio
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCallEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	t.Run("list", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/calls", "")
		var calls []map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&calls); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if len(calls) != 2 || calls[1]["tel_state"] != "HOLDING" {
			t.Errorf("calls = %v", calls)
		}
	})

	t.Run("by id", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/calls/1", "")
		var got map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got["number"] != "10086" {
			t.Errorf("call = %v", got)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/calls/9", "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
		var got map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&got)
		if got["reason"] != callerr.ReasonCallNotExist {
			t.Errorf("reason = %q", got["reason"])
		}
	})

	t.Run("bad id", func(t *testing.T) {
		if resp := do(t, http.MethodGet, ts.URL+"/api/v1/calls/abc", ""); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("stats", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/stats", "")
		var got struct {
			Total   int            `json:"total_calls"`
			ByState map[string]int `json:"by_state"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got.Total != 2 || got.ByState["ACTIVE"] != 1 {
			t.Errorf("stats = %+v", got)
		}
	})
}

func TestNetworkEndpoints(t *testing.T) {
	ts, network, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/network/incoming", `{"number":"555","type":"ims","video_state":"video"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if len(network.rung) != 1 {
		t.Fatalf("rung = %v", network.rung)
	}
	if got := network.rung[0]; got.Type != call.TypeIMS || got.VideoState != call.VideoBidirectional {
		t.Errorf("attrs = %+v", got)
	}

	if resp := do(t, http.MethodPost, ts.URL+"/api/v1/network/incoming", `{"number":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty number status = %d, want 400", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, ts.URL+"/api/v1/network/incoming", `{"number":"1","type":"fax"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", resp.StatusCode)
	}

	if resp := do(t, http.MethodPost, ts.URL+"/api/v1/network/calls/1/answer", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("answer status = %d, want 204", resp.StatusCode)
	}
	if len(network.answered) != 1 || network.answered[0] != 1 {
		t.Errorf("answered = %v", network.answered)
	}
	if resp := do(t, http.MethodPost, ts.URL+"/api/v1/network/calls/7/hangup", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("hangup status = %d, want 404", resp.StatusCode)
	}
}

func TestRadioEndpoints(t *testing.T) {
	ts, _, radio := newTestServer(t)

	if resp := do(t, http.MethodPut, ts.URL+"/api/v1/radio/airplane", `{"on":true}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if !radio.IsAirplaneMode() {
		t.Error("airplane mode not applied")
	}

	if resp := do(t, http.MethodPut, ts.URL+"/api/v1/radio/slots/0", `{"sim_present":true,"in_service":false}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if radio.IsInService(0) {
		t.Error("slot status not applied")
	}
	if resp := do(t, http.MethodPut, ts.URL+"/api/v1/radio/slots/3", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad slot status = %d, want 400", resp.StatusCode)
	}

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/radio", "")
	var got struct {
		Airplane bool             `json:"airplane_mode"`
		Slots    []map[string]any `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !got.Airplane || len(got.Slots) != 1 || got.Slots[0]["in_service"] != false {
		t.Errorf("radio = %+v", got)
	}
}

func TestOptionalEndpointsDisabled(t *testing.T) {
	ts := httptest.NewServer(NewServer(&fakeCalls{}, nil, nil, nil).Handler())
	defer ts.Close()
	for _, path := range []string{"/api/v1/radio", "/ws"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}
