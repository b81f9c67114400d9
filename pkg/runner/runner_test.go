package runner

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/psaab/spp/pkg/configstore"
	"github.com/psaab/spp/pkg/mgmt"
	"github.com/psaab/spp/pkg/response"
)

func newTestRunner(t *testing.T, proc mgmt.ProcessType) (*Runner, *mgmt.State) {
	t.Helper()
	st := mgmt.NewState(mgmt.Options{
		ClientID: 1,
		Process:  proc,
		Lcores:   []int{1, 2, 3},
		PhyPorts: 2,
	})
	st.SetAllStatus(mgmt.StatusIdling)
	return New(st, Options{Store: configstore.New("")}), st
}

func mustSucceed(t *testing.T, r *Runner, msg string) *response.Response {
	t.Helper()
	resp := r.Execute(msg)
	for i, res := range resp.Results {
		if res.Result != response.Success {
			t.Fatalf("Execute(%q) result[%d] = %+v", msg, i, res)
		}
	}
	return resp
}

func TestMirrorScenario(t *testing.T) {
	r, _ := newTestRunner(t, mgmt.ProcMirror)
	mustSucceed(t, r, "component start comp1 1 mirror")
	mustSucceed(t, r, "port add ring:0 rx comp1")
	mustSucceed(t, r, "port add ring:1 tx comp1")
	resp := mustSucceed(t, r, "status")

	info, ok := resp.Info.(*response.Info)
	if !ok {
		t.Fatalf("Info = %T, want *response.Info", resp.Info)
	}
	var entry *response.CoreEntry
	for i := range info.Core {
		if info.Core[i].Core == 1 {
			entry = &info.Core[i]
		}
	}
	if entry == nil {
		t.Fatal("no core entry for lcore 1")
	}
	if entry.Name != "comp1" || entry.Type != "mirror" {
		t.Errorf("core 1 = %s/%s, want comp1/mirror", entry.Name, entry.Type)
	}
	if diff := cmp.Diff([]response.PortRef{{Port: "ring:0"}}, *entry.RxPort); diff != "" {
		t.Errorf("rx_port mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]response.PortRef{{Port: "ring:1"}}, *entry.TxPort); diff != "" {
		t.Errorf("tx_port mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1}, info.Ring); diff != "" {
		t.Errorf("ring list mismatch (-want +got):\n%s", diff)
	}
}

func TestStartedComponentHasNoPorts(t *testing.T) {
	for core := 1; core <= 3; core++ {
		r, _ := newTestRunner(t, mgmt.ProcMirror)
		name := fmt.Sprintf("c%d", core)
		mustSucceed(t, r, fmt.Sprintf("component start %s %d mirror", name, core))
		info := r.Info().(*response.Info)
		found := false
		for _, e := range info.Core {
			if e.Core == core && e.Name == name {
				found = true
				if len(*e.RxPort) != 0 || len(*e.TxPort) != 0 {
					t.Errorf("%s ports = %v/%v, want none", name, *e.RxPort, *e.TxPort)
				}
			}
		}
		if !found {
			t.Errorf("%s not listed under core %d", name, core)
		}
	}
}

func TestStopUnknownSucceeds(t *testing.T) {
	r, _ := newTestRunner(t, mgmt.ProcMirror)
	mustSucceed(t, r, "component start comp1 1 mirror")
	before := r.Dump()
	mustSucceed(t, r, "component stop nobody")
	if diff := cmp.Diff(before, r.Dump()); diff != "" {
		t.Errorf("tables changed (-before +after):\n%s", diff)
	}
}

func TestPolicyViolationRollsBack(t *testing.T) {
	r, st := newTestRunner(t, mgmt.ProcMirror)
	mustSucceed(t, r, "component start comp1 1 mirror")
	mustSucceed(t, r, "port add ring:0 rx comp1")
	before := r.Dump()
	flushes := st.Flushes.Load()

	resp := r.Execute("port add ring:2 rx comp1")
	want := []response.Result{{Result: response.Error,
		ErrorDetails: &response.ErrorDetails{Message: response.ExecFailedMessage}}}
	if diff := cmp.Diff(want, resp.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, r.Dump()); diff != "" {
		t.Errorf("tables changed (-before +after):\n%s", diff)
	}
	if got := st.Flushes.Load(); got != flushes {
		t.Errorf("Flushes = %d, want %d", got, flushes)
	}
	if got := r.ExecErrors.Load(); got != 1 {
		t.Errorf("ExecErrors = %d, want 1", got)
	}
}

func TestParseErrorRejectsWholeBatch(t *testing.T) {
	r, _ := newTestRunner(t, mgmt.ProcMirror)
	before := r.Dump()
	resp := r.Execute("component start comp1 1 mirror; bogus; status")
	want := response.ParseFailed(3, 1, "unknown command(bogus)")
	if diff := cmp.Diff(want, resp.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, r.Dump()); diff != "" {
		t.Errorf("tables changed (-before +after):\n%s", diff)
	}
}

func TestExecFailureStopsBatch(t *testing.T) {
	r, _ := newTestRunner(t, mgmt.ProcMirror)
	resp := r.Execute("component start a 1 mirror; component start b 9 mirror; component start c 2 mirror")
	want := response.ExecFailed(3, 1)
	if diff := cmp.Diff(want, resp.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if _, ok := r.state.ComponentByName("a"); !ok {
		t.Error("component a should stay committed")
	}
	if _, ok := r.state.ComponentByName("c"); ok {
		t.Error("component c should not have run")
	}
}

func TestClientIDAndExit(t *testing.T) {
	r, _ := newTestRunner(t, mgmt.ProcVF)
	resp := mustSucceed(t, r, "_get_client_id")
	if resp.ClientID == nil || *resp.ClientID != 1 || resp.ProcessType != "vf" {
		t.Errorf("client id response = %v/%q", resp.ClientID, resp.ProcessType)
	}
	if r.ExitRequested() {
		t.Fatal("exit requested before exit command")
	}
	mustSucceed(t, r, "exit")
	if !r.ExitRequested() {
		t.Error("exit not requested after exit command")
	}
	select {
	case <-r.Exited():
	default:
		t.Error("Exited channel not closed after exit command")
	}
	mustSucceed(t, r, "exit")
}

func TestEmptyRequest(t *testing.T) {
	r, _ := newTestRunner(t, mgmt.ProcMirror)
	resp := r.Execute(" ; ")
	want := response.ParseFailed(1, 0, "wrong message format")
	if diff := cmp.Diff(want, resp.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifierTable(t *testing.T) {
	r, _ := newTestRunner(t, mgmt.ProcVF)
	mustSucceed(t, r, "component start cls 1 classifier_mac")
	mustSucceed(t, r, "port add phy:0 rx cls")
	mustSucceed(t, r, "port add ring:0 tx cls")
	mustSucceed(t, r, "classifier_table add mac 00:11:22:33:44:55 ring:0")

	info := r.Info().(*response.Info)
	want := []response.ClassifierEntry{{Type: "mac", Value: "00:11:22:33:44:55", Port: "ring:0"}}
	if diff := cmp.Diff(want, info.ClassifierTable); diff != "" {
		t.Errorf("classifier table mismatch (-want +got):\n%s", diff)
	}

	mustSucceed(t, r, "classifier_table del mac 00:11:22:33:44:55 ring:0")
	info = r.Info().(*response.Info)
	if len(info.ClassifierTable) != 0 {
		t.Errorf("classifier table = %v, want empty", info.ClassifierTable)
	}
}

func TestHistoryRecordsCommits(t *testing.T) {
	r, _ := newTestRunner(t, mgmt.ProcMirror)
	mustSucceed(t, r, "component start comp1 1 mirror")
	mustSucceed(t, r, "status")
	mustSucceed(t, r, "component stop nobody")
	list := r.store.List()
	if len(list) != 1 || list[0].Command != "component start comp1 1 mirror" {
		t.Errorf("history = %+v, want the start command only", list)
	}
}

type fakeCapture struct {
	running bool
}

func (f *fakeCapture) Start() error { f.running = true; return nil }
func (f *fakeCapture) Stop() error  { f.running = false; return nil }
func (f *fakeCapture) Info() *response.CaptureInfo {
	st := "idle"
	if f.running {
		st = "running"
	}
	return &response.CaptureInfo{ClientID: 4, Status: st, Core: []response.CaptureCore{}}
}

func TestPcapCommands(t *testing.T) {
	st := mgmt.NewState(mgmt.Options{ClientID: 4, Process: mgmt.ProcPcap, Lcores: []int{1, 2}})
	fc := &fakeCapture{}
	r := New(st, Options{Capture: fc})

	mustSucceed(t, r, "start")
	resp := mustSucceed(t, r, "status")
	ci, ok := resp.Info.(*response.CaptureInfo)
	if !ok || ci.Status != "running" {
		t.Errorf("status info = %#v, want running capture info", resp.Info)
	}
	mustSucceed(t, r, "stop")
	if fc.running {
		t.Error("capture still running after stop")
	}

	resp = r.Execute("component start a 1 mirror")
	if resp.Results[0].Result != response.Error {
		t.Errorf("component on pcap = %+v, want error", resp.Results[0])
	}
}
