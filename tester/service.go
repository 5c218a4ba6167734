package tester

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/project-flogo/core/support/log"

	approvalflow "github.com/bilansoft/approvalflow"
	"github.com/bilansoft/approvalflow/definition"
	"github.com/bilansoft/approvalflow/instance"
	"github.com/bilansoft/approvalflow/model"
)

// RestTester is a REST development harness around the approval engine. It is
// not an API gateway: no authentication, meant for local testing only.
type RestTester struct {
	engine *approvalflow.Engine
	server *Server
	logger log.Logger
}

// NewRestTester creates a REST harness serving the given engine on port
func NewRestTester(engine *approvalflow.Engine, port int) *RestTester {

	rt := &RestTester{
		engine: engine,
		logger: log.RootLogger(),
	}

	router := httprouter.New()
	router.OPTIONS("/definition/register", handleOption)
	router.POST("/definition/register", rt.RegisterDefinition)

	router.OPTIONS("/document/submit", handleOption)
	router.POST("/document/submit", rt.SubmitDocument)

	router.OPTIONS("/task/decide", handleOption)
	router.POST("/task/decide", rt.Decide)

	router.OPTIONS("/instance/:id/cancel", handleOption)
	router.POST("/instance/:id/cancel", rt.CancelInstance)

	router.OPTIONS("/instance/:id", handleOption)
	router.GET("/instance/:id", rt.GetInstance)

	router.OPTIONS("/instance/:id/tasks", handleOption)
	router.GET("/instance/:id/tasks", rt.GetTasks)

	router.OPTIONS("/audit", handleOption)
	router.GET("/audit", rt.GetAudit)

	router.OPTIONS("/sweep", handleOption)
	router.POST("/sweep", rt.RunSweep)

	router.OPTIONS("/status", handleOption)
	router.GET("/status", rt.Status)

	addr := ":" + strconv.Itoa(port)
	rt.server = NewServer(addr, router)

	return rt
}

func (rt *RestTester) Name() string {
	return "ApprovalTester"
}

// Start starts the harness server
func (rt *RestTester) Start() error {
	return rt.server.Start()
}

// Stop stops the harness server
func (rt *RestTester) Stop() error {
	return rt.server.Stop()
}

func handleOption(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	w.Header().Add("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "*")
	w.Header().Add("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Add("Access-Control-Allow-Headers", "Origin")
	w.Header().Add("Access-Control-Allow-Headers", "X-Requested-With")
	w.Header().Add("Access-Control-Allow-Headers", "Accept")
	w.Header().Add("Access-Control-Allow-Headers", "Accept-Language")
	w.Header().Set("Content-Type", "application/json")
}

// IDResponse is a response object that contains an ID
type IDResponse struct {
	ID string `json:"id"`
}

// SubmitResponse reports whether a workflow started and its id
type SubmitResponse struct {
	Matched    bool   `json:"matched"`
	InstanceID string `json:"instanceId,omitempty"`
}

// RegisterDefinition registers a workflow definition (POST "/definition/register").
//
// To register a definition, try this at a shell:
// $ curl -H "Content-Type: application/json" -X POST -d @definition.json http://localhost:8080/definition/register
func (rt *RestTester) RegisterDefinition(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {

	logger := rt.logger

	w.Header().Add("Access-Control-Allow-Origin", "*")

	rep := &definition.DefinitionRep{}
	err := json.NewDecoder(r.Body).Decode(rep)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	def, err := rt.engine.RegisterDefinition(rep)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger.Debugf("Registered definition [ID:%s] '%s'", def.ID(), def.Name())

	encoder := json.NewEncoder(w)
	err = encoder.Encode(&IDResponse{ID: def.ID()})
	if err != nil {
		logger.Errorf("Unable to encode response: %v", err)
	}
}

// SubmitDocument submits a document for trigger matching (POST "/document/submit").
//
// To submit a document, try this at a shell:
// $ curl -H "Content-Type: application/json" -X POST -d '{"id":"doc-1","type":"invoice","organizationId":"org-1"}' http://localhost:8080/document/submit
func (rt *RestTester) SubmitDocument(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {

	logger := rt.logger

	w.Header().Add("Access-Control-Allow-Origin", "*")

	doc := &definition.Document{}
	err := json.NewDecoder(r.Body).Decode(doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inst, matched, err := rt.engine.HandleDocument(doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := &SubmitResponse{Matched: matched}
	if inst != nil {
		resp.InstanceID = inst.ID
		logger.Debugf("Started Instance [ID:%s] for document %s", inst.ID, doc.ID)
	}

	encoder := json.NewEncoder(w)
	err = encoder.Encode(resp)
	if err != nil {
		logger.Errorf("Unable to encode response: %v", err)
	}
}

// Decide submits an approval decision (POST "/task/decide").
//
// To post a decision, try this at a shell:
// $ curl -H "Content-Type: application/json" -X POST -d '{"taskId":"...","actorId":"u1","decision":"approved"}' http://localhost:8080/task/decide
func (rt *RestTester) Decide(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {

	w.Header().Add("Access-Control-Allow-Origin", "*")

	req := &DecideRequest{}
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	dreq, err := req.toDecisionRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = rt.engine.Decide(dreq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// CancelInstance aborts a live instance (POST "/instance/:id/cancel")
func (rt *RestTester) CancelInstance(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {

	w.Header().Add("Access-Control-Allow-Origin", "*")

	req := &CancelRequest{}
	err := json.NewDecoder(r.Body).Decode(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = rt.engine.Cancel(ps.ByName("id"), req.Reason)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetInstance returns an instance with its stages (GET "/instance/:id")
func (rt *RestTester) GetInstance(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {

	logger := rt.logger

	w.Header().Add("Access-Control-Allow-Origin", "*")

	id := ps.ByName("id")

	inst, err := rt.engine.Instance(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	stages, err := rt.engine.Stages(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	encoder := json.NewEncoder(w)
	err = encoder.Encode(&InstanceResponse{Instance: inst, Stages: stages})
	if err != nil {
		logger.Errorf("Unable to encode response: %v", err)
	}
}

// GetTasks returns all approval tasks of an instance (GET "/instance/:id/tasks")
func (rt *RestTester) GetTasks(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {

	logger := rt.logger

	w.Header().Add("Access-Control-Allow-Origin", "*")

	tasks, err := rt.engine.Tasks(ps.ByName("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	encoder := json.NewEncoder(w)
	err = encoder.Encode(tasks)
	if err != nil {
		logger.Errorf("Unable to encode response: %v", err)
	}
}

// GetAudit queries the audit log (GET "/audit?org=...&instance=...&type=...&offset=0&limit=50")
func (rt *RestTester) GetAudit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {

	logger := rt.logger

	w.Header().Add("Access-Control-Allow-Origin", "*")

	q, err := auditQueryFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := rt.engine.Audit().Entries(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	encoder := json.NewEncoder(w)
	err = encoder.Encode(entries)
	if err != nil {
		logger.Errorf("Unable to encode response: %v", err)
	}
}

// RunSweep triggers one escalation pass (POST "/sweep")
func (rt *RestTester) RunSweep(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {

	w.Header().Add("Access-Control-Allow-Origin", "*")

	err := rt.engine.Sweep(time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Status is a basic health check for the server to determine if it is up
func (rt *RestTester) Status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {

	w.Header().Add("Access-Control-Allow-Origin", "*")

	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (req *DecideRequest) toDecisionRequest(r *http.Request) (*instance.DecisionRequest, error) {
	decision, err := model.ToDecision(req.Decision)
	if err != nil {
		return nil, err
	}
	return &instance.DecisionRequest{
		TaskID:     req.TaskID,
		ActorID:    req.ActorID,
		Decision:   decision,
		Comment:    req.Comment,
		DelegateTo: req.DelegateTo,
		IP:         r.RemoteAddr,
		Device:     r.UserAgent(),
	}, nil
}
