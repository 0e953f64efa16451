// This demo simulates several parallel editors in a single web page, each
// backed by its own replica, syncing their work through this server.
//
// We assume that there is no message loss or out-of-order network
// shenanigans for this demo. A real multi-agent edit fest requires a more
// robust assumption (or, preferably, that the CRDTs are also implemented on
// the client for powerful syncing).
package main

// Example session:
//  1) User loads demo home webpage (/load)
//  2) Server answers with every current replica, its ID and content.
//  3) User edits content for a replica (/edit #1)
//  4) User edits content for a replica (/edit #2)
//  5) Server answers edit #1, content reflects that edit.
//  6) Server answers edit #2, content reflects that edit.
//  7) User forks a replica (/fork)
//  8) Server answers with ID and content of the new replica.
//  9) User syncs two replicas (/sync)
// 10) Server responds with the synced replica's new content.
//
// Note that connection state is not kept on the server, only on the client.

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/weavedoc/weave-crdt/clock"
	"github.com/weavedoc/weave-crdt/crdt"
	"github.com/weavedoc/weave-crdt/delta"
)

var (
	port          = flag.Int("port", 8009, "port to run server")
	debug         = flag.Bool("debug", false, "whether to dump debug information. Default debug file is log_{{datetime}}.jsonl")
	debugFilename = flag.String("debug_file", "", "file to dump debug information in JSONL format. Implies --debug")

	staticDir = flag.String("static_dir", "", "Directory with static files")
	debugDir  = flag.String("debug_dir", "", "Directory with static debug files")
)

// -----

type debugMsgType int

const (
	writeDebug debugMsgType = iota
	syncDebug
)

type debugMessage struct {
	msgType debugMsgType
	payload interface{}
}

// -----

// loggedOp is an op this replica has applied, local or replayed, kept
// around so /sync can replay it onto another replica without re-deriving
// it from a delta a second time.
type loggedOp struct {
	Spec    crdt.OpSpec
	Applied delta.Applied
}

// replica is one editing site: its own weave, engine and clock, an
// append-only log of every op it has applied, and how far it has already
// replayed each peer's log.
type replica struct {
	id     string
	weave  *crdt.Weave
	engine *crdt.Engine
	clock  *clock.Source

	mu     *sync.Mutex
	order  int
	log    []loggedOp
	synced map[string]int // peer replica ID -> length of its log already replayed here
}

func newReplica(id string, order int) *replica {
	w := crdt.NewWeave()
	c := clock.New()
	return &replica{
		id:     id,
		weave:  w,
		engine: crdt.NewEngine(w, c, observerFunc(func(format string, args ...interface{}) { log.Printf(format, args...) })),
		clock:  c,
		mu:     &sync.Mutex{},
		order:  order,
		synced: make(map[string]int),
	}
}

type observerFunc func(format string, args ...interface{})

func (f observerFunc) Warnf(format string, args ...interface{}) { f(format, args...) }

func sortReplicas(replicas []*replica) {
	sort.Slice(replicas, func(i, j int) bool {
		return replicas[i].order < replicas[j].order
	})
}

// -----

type state struct {
	sync.Mutex

	debugMsgs chan<- debugMessage

	replicas sync.Map // map[string]*replica
	maplen   int

	numLoadRequests int
	numEditRequests int
	numForkRequests int
	numSyncRequests int
}

func newState(debugMsgs chan<- debugMessage) *state {
	r := newReplica(clock.NewReplicaID(), 0)
	var replicas sync.Map
	replicas.Store(r.id, r)
	return &state{
		debugMsgs: debugMsgs,
		replicas:  replicas,
		maplen:    1,
	}
}

func (s *state) replicaList() []*replica {
	var out []*replica
	s.replicas.Range(func(key, val interface{}) bool {
		out = append(out, val.(*replica))
		return true
	})
	sortReplicas(out)
	return out
}

func (s *state) replica(id string) (*replica, bool) {
	val, ok := s.replicas.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*replica), true
}

// -----

func main() {
	flag.Parse()

	debugMsgs := runDebug()
	s := newState(debugMsgs)

	http.Handle("/", http.FileServer(http.Dir(*staticDir)))
	http.Handle("/debug/", http.StripPrefix("/debug", http.FileServer(http.Dir(*debugDir))))
	http.Handle("/load", loadHTTPHandler{s})
	http.Handle("/edit", editHTTPHandler{s})
	http.Handle("/fork", forkHTTPHandler{s})
	http.Handle("/sync", syncHTTPHandler{s})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Serving in %s\n", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// -----

type listResponse struct {
	ID      string      `json:"id"`
	Content []crdt.Span `json:"content"`
}

type loadResponse struct {
	Lists []listResponse `json:"lists"`
}

type loadHTTPHandler struct {
	s *state
}

func (h loadHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.s.handleLoad(w)
}

func (s *state) handleLoad(w http.ResponseWriter) {
	s.writeDebug(map[string]interface{}{
		"Type":    "load",
		"Request": "",
	})
	defer s.syncDebug()
	log.Printf("load")

	s.Lock()
	numRequests := s.numLoadRequests
	s.numLoadRequests++
	s.Unlock()

	replicas := s.replicaList()
	resp := loadResponse{Lists: make([]listResponse, len(replicas))}
	for i, r := range replicas {
		resp.Lists[i] = listResponse{ID: r.id, Content: r.weave.Spans()}
	}
	bs, err := json.Marshal(resp)
	if err != nil {
		log.Printf("Error marshaling load response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "load error: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(bs)
	s.writeDebug(map[string]interface{}{
		"Type":    "loadStep",
		"ReqIdx":  numRequests,
		"StepIdx": 0,
		"Sites":   s.debugReplicas(),
	})
}

// -----

type editRequest struct {
	ID  string          `json:"id"`
	Ops []editOperation `json:"ops"`
}

// editOperation is one step of the delta edit script the frontend sends:
// "keep"/"insert"/"delete" map onto delta.Retain/delta.Insert/delta.Delete,
// Dist carrying the retain/delete run length (defaulting to 1 for a bare
// single-character step).
type editOperation struct {
	Op   string `json:"op"`
	Char string `json:"ch"`
	Dist int    `json:"dist"`
}

func toDelta(ops []editOperation) delta.Delta {
	var d delta.Delta
	for _, op := range ops {
		switch op.Op {
		case "keep":
			d = append(d, delta.Retain{N: runCount(op.Dist)})
		case "insert":
			d = append(d, delta.Insert{Value: op.Char})
		case "delete":
			d = append(d, delta.Delete{N: runCount(op.Dist)})
		}
	}
	return d
}

func runCount(dist int) int {
	if dist <= 0 {
		return 1
	}
	return dist
}

type editHTTPHandler struct {
	s *state
}

func (h editHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	parser := json.NewDecoder(req.Body)
	editReq := &editRequest{}
	if err := parser.Decode(editReq); err != nil {
		log.Printf("Error parsing body in /edit: %v", err)
		return
	}
	h.s.handleEdit(w, editReq)
}

func (s *state) handleEdit(w http.ResponseWriter, req *editRequest) {
	s.writeDebug(map[string]interface{}{
		"Type":    "edit",
		"Request": req,
	})
	defer s.syncDebug()

	id := req.ID
	r, ok := s.replica(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "edit error: %q not found", id)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s.Lock()
	numRequests := s.numEditRequests
	s.numEditRequests++
	s.Unlock()

	spec := crdt.OpSpec{Body: r.clock.NewTimestamp(), Ext: r.id}
	applied, err := delta.ApplyDelta(r.engine, spec, toDelta(req.Ops))
	if err != nil {
		log.Printf("%s: edit error: %v", id, err)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "edit error: %v", err)
		return
	}
	r.log = append(r.log, loggedOp{Spec: spec, Applied: applied})

	content := r.weave.Text()
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, content)
	log.Printf("%s: value     = %s", id, content)

	s.writeDebug(map[string]interface{}{
		"Type":     "editStep",
		"ReqIdx":   numRequests,
		"StepIdx":  0,
		"Sites":    s.debugReplicas(),
		"LocalIdx": r.order,
	})
}

// -----

type forkRequest struct {
	LocalID string `json:"local"`
}

type forkHTTPHandler struct {
	s *state
}

func (h forkHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	parser := json.NewDecoder(req.Body)
	forkReq := &forkRequest{}
	if err := parser.Decode(forkReq); err != nil {
		log.Printf("Error parsing body in /fork: %v", err)
		return
	}
	h.s.handleFork(w, forkReq)
}

func (s *state) handleFork(w http.ResponseWriter, req *forkRequest) {
	s.writeDebug(map[string]interface{}{
		"Type":    "fork",
		"Request": req,
	})
	defer s.syncDebug()

	id := req.LocalID
	local, ok := s.replica(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "fork error: %q not found", id)
		return
	}
	local.mu.Lock()
	defer local.mu.Unlock()

	s.Lock()
	order := s.maplen
	numRequests := s.numForkRequests
	s.numForkRequests++
	s.maplen++
	s.Unlock()

	// The new replica gets its own clock, fast-forwarded past the source's
	// current high-water mark so its first local op never collides with one
	// the source has already issued (both still disambiguated by replica
	// ID regardless, but this keeps single-process demo timestamps tidy).
	remoteID := clock.NewReplicaID()
	remote := newReplica(remoteID, order)
	remote.clock.CheckTimestamp(crdt.EncodeTimestamp(local.clock.Peek()))
	s.replicas.Store(remoteID, remote)

	for _, entry := range local.log {
		replay(remote.engine, entry)
	}
	remote.synced[local.id] = len(local.log)

	log.Printf("%s: fork      = %s", local.id, remote.id)

	resp := listResponse{ID: remote.id, Content: remote.weave.Spans()}
	bs, err := json.Marshal(resp)
	if err != nil {
		log.Printf("Error marshaling fork response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "fork error: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(bs)
	s.writeDebug(map[string]interface{}{
		"Type":      "forkStep",
		"ReqIdx":    numRequests,
		"StepIdx":   0,
		"Sites":     s.debugReplicas(),
		"LocalIdx":  local.order,
		"RemoteIdx": order,
	})
}

// -----

type syncRequest struct {
	LocalID   string   `json:"id"`
	RemoteIDs []string `json:"mergeIds"`
}

type syncHTTPHandler struct {
	s *state
}

func (h syncHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	parser := json.NewDecoder(req.Body)
	syncReq := &syncRequest{}
	if err := parser.Decode(syncReq); err != nil {
		log.Printf("Error parsing body in /sync: %v", err)
		return
	}
	h.s.handleSync(w, syncReq)
}

func (s *state) handleSync(w http.ResponseWriter, req *syncRequest) {
	s.writeDebug(map[string]interface{}{
		"Type":    "sync",
		"Request": req,
	})
	defer s.syncDebug()

	s.Lock()
	numRequests := s.numSyncRequests
	s.numSyncRequests++
	s.Unlock()

	local, ok := s.replica(req.LocalID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "unknown ID %q", req.LocalID)
		return
	}
	for i, remoteID := range req.RemoteIDs {
		remote, ok := s.replica(remoteID)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, "unknown remote replica ID: %q", remoteID)
			return
		}

		lockAll(local, remote)
		from := local.synced[remote.id]
		for _, entry := range remote.log[from:] {
			replay(local.engine, entry)
		}
		local.synced[remote.id] = len(remote.log)
		unlockAll(local, remote)

		log.Printf("%s: sync      = %s", req.LocalID, remoteID)
		s.writeDebug(map[string]interface{}{
			"Type":      "syncStep",
			"ReqIdx":    numRequests,
			"StepIdx":   i,
			"Sites":     s.debugReplicas(),
			"LocalIdx":  local.order,
			"RemoteIdx": remote.order,
		})
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, local.weave.Text())
}

// replay re-applies a previously logged op against engine, removes before
// inserts, matching the order ApplyDelta committed them in originally.
func replay(engine *crdt.Engine, entry loggedOp) {
	if entry.Applied.Remove != nil {
		if err := engine.Remove(entry.Spec, *entry.Applied.Remove); err != nil {
			log.Printf("replay: remove: %v", err)
		}
	}
	if entry.Applied.Insert != nil {
		if _, err := engine.Insert(entry.Spec, *entry.Applied.Insert); err != nil {
			log.Printf("replay: insert: %v", err)
		}
	}
}

// -----

// Lock mutexes in ascending replica order.
func lockAll(replicas ...*replica) {
	sortReplicas(replicas)
	for _, r := range replicas {
		r.mu.Lock()
	}
}

// Unlock mutexes in descending replica order.
func unlockAll(replicas ...*replica) {
	sortReplicas(replicas)
	for i := len(replicas) - 1; i >= 0; i-- {
		replicas[i].mu.Unlock()
	}
}

// -----

func (s *state) debugReplicas() []*crdt.Weave {
	if !s.isDebug() {
		return nil
	}
	replicas := s.replicaList()
	out := make([]*crdt.Weave, len(replicas))
	for i, r := range replicas {
		out[i] = r.weave
	}
	return out
}

func (s *state) isDebug() bool {
	return s.debugMsgs != nil
}

func (s *state) writeDebug(x interface{}) {
	if s.isDebug() {
		s.debugMsgs <- debugMessage{
			msgType: writeDebug,
			payload: x,
		}
	}
}

func (s *state) syncDebug() {
	if s.isDebug() {
		s.debugMsgs <- debugMessage{msgType: syncDebug}
	}
}

func runDebug() chan<- debugMessage {
	f := createDebug()
	if f == nil {
		return nil
	}
	ch := make(chan debugMessage, 10)
	go func() {
		for msg := range ch {
			if f == nil {
				continue
			}
			switch msg.msgType {
			case writeDebug:
				if bs, err := json.Marshal(msg.payload); err != nil {
					log.Printf("Error while writing to debug file: %v", err)
				} else {
					f.Write(bs)
					f.WriteString("\n")
				}
			case syncDebug:
				f.Sync()
			}
		}
		f.Close()
	}()
	return ch
}

func createDebug() *os.File {
	if !*debug && *debugFilename == "" {
		return nil
	}
	if *debugFilename == "" {
		datetime := time.Now().Format("2006-01-02T15:04:05")
		*debugFilename = fmt.Sprintf("log_%s.jsonl", datetime)
	}
	debugFile, err := os.Create(*debugFilename)
	if err != nil {
		log.Printf("Error opening debug file: %v", err)
		return nil
	}
	return debugFile
}
