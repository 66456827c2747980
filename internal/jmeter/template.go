// Package jmeter emits JMeter test plans and drives the jmeter subprocess.
package jmeter

// File: internal/jmeter/template.go
// Purpose: Render a JMeter test plan (.jmx) for one run request.

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"perf-api-go/internal/apperr"
	"perf-api-go/internal/models"
)

const maxNameLen = 64

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

var planTemplate = template.Must(template.New("jmx").Funcs(template.FuncMap{"x": escapeXML}).Parse(planXML))

// Plan holds the values substituted into the test plan.
type Plan struct {
	TestName   string
	Threads    int
	RampUp     int
	Duration   int
	Protocol   string
	Domain     string
	Port       string
	Path       string
	SampleLog  string
	SummaryLog string
}

// Emitter writes one test plan file per call under Dir.
type Emitter struct {
	Dir   string
	NewID func() string
}

// NewEmitter returns an Emitter writing into dir with uuid suffixes.
func NewEmitter(dir string) *Emitter {
	return &Emitter{Dir: dir, NewID: uuid.NewString}
}

// Emit validates req, renders its plan and writes it to a unique path.
func (e *Emitter) Emit(req models.RunRequest) ([]byte, string, error) {
	const op = "jmeter.Emit"
	plan, err := PlanFor(req)
	if err != nil {
		return nil, "", err
	}
	doc, err := Render(plan)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindIO, op, err)
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, "", apperr.Wrap(apperr.KindIO, op, err)
	}
	path := filepath.Join(e.Dir, fmt.Sprintf("%s_%s.jmx", SanitizeName(req.TestName), e.NewID()))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindIO, op, err)
	}
	if _, err := f.Write(doc); err != nil {
		_ = f.Close()
		return nil, "", apperr.Wrap(apperr.KindIO, op, err)
	}
	if err := f.Close(); err != nil {
		return nil, "", apperr.Wrap(apperr.KindIO, op, err)
	}
	return doc, path, nil
}

// PlanFor checks req and derives the plan values from it.
func PlanFor(req models.RunRequest) (Plan, error) {
	const op = "jmeter.PlanFor"
	if req.ConcurrentUsers <= 0 {
		return Plan{}, apperr.New(apperr.KindInvalidInput, op, "concurrent_users must be positive, got %d", req.ConcurrentUsers)
	}
	if req.DurationSeconds <= 0 {
		return Plan{}, apperr.New(apperr.KindInvalidInput, op, "duration_seconds must be positive, got %d", req.DurationSeconds)
	}
	if req.RampUpSeconds < 0 {
		return Plan{}, apperr.New(apperr.KindInvalidInput, op, "ramp_up_seconds must not be negative, got %d", req.RampUpSeconds)
	}
	u, err := url.Parse(strings.TrimSpace(req.TargetURL))
	if err != nil {
		return Plan{}, &apperr.Error{Kind: apperr.KindInvalidInput, Op: op, Err: err}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Plan{}, apperr.New(apperr.KindInvalidInput, op, "target_url must be http or https, got %q", req.TargetURL)
	}
	if u.Hostname() == "" {
		return Plan{}, apperr.New(apperr.KindInvalidInput, op, "target_url has no host: %q", req.TargetURL)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return Plan{
		TestName:   req.TestName,
		Threads:    req.ConcurrentUsers,
		RampUp:     req.RampUpSeconds,
		Duration:   req.DurationSeconds,
		Protocol:   scheme,
		Domain:     u.Hostname(),
		Port:       u.Port(),
		Path:       path,
		SampleLog:  propertyRef(SampleLogProp),
		SummaryLog: propertyRef(SummaryLogProp),
	}, nil
}

// propertyRef defers a value to a -J property the driver sets per run.
func propertyRef(name string) string {
	return "${__P(" + name + ",)}"
}

// Render executes the plan template.
func Render(p Plan) ([]byte, error) {
	var buf bytes.Buffer
	if err := planTemplate.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SanitizeName keeps letters, digits, '-' and '_' so the name is safe in a file path.
func SanitizeName(name string) string {
	s := strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
	if len(s) > maxNameLen {
		s = s[:maxNameLen]
	}
	if s == "" {
		return "test"
	}
	return s
}

func escapeXML(v any) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(fmt.Sprint(v)))
	return buf.String()
}

const saveConfig = `<objProp>
            <name>saveConfig</name>
            <value class="SampleSaveConfiguration">
              <time>true</time>
              <latency>true</latency>
              <timestamp>true</timestamp>
              <success>true</success>
              <label>true</label>
              <code>true</code>
              <message>true</message>
              <threadName>true</threadName>
              <dataType>true</dataType>
              <encoding>false</encoding>
              <assertions>true</assertions>
              <subresults>true</subresults>
              <responseData>false</responseData>
              <samplerData>false</samplerData>
              <xml>false</xml>
              <fieldNames>true</fieldNames>
              <responseHeaders>false</responseHeaders>
              <requestHeaders>false</requestHeaders>
              <responseDataOnError>false</responseDataOnError>
              <saveAssertionResultsFailureMessage>true</saveAssertionResultsFailureMessage>
              <assertionsResultsToSave>0</assertionsResultsToSave>
              <bytes>true</bytes>
              <sentBytes>true</sentBytes>
              <url>true</url>
              <threadCounts>true</threadCounts>
              <idleTime>true</idleTime>
              <connectTime>true</connectTime>
            </value>
          </objProp>`

const planXML = `<?xml version="1.0" encoding="UTF-8"?>
<jmeterTestPlan version="1.2" properties="5.0" jmeter="5.6.3">
  <hashTree>
    <TestPlan guiclass="TestPlanGui" testclass="TestPlan" testname="{{x .TestName}}">
      <boolProp name="TestPlan.functional_mode">false</boolProp>
      <boolProp name="TestPlan.tearDown_on_shutdown">true</boolProp>
      <boolProp name="TestPlan.serialize_threadgroups">false</boolProp>
      <elementProp name="TestPlan.user_defined_variables" elementType="Arguments" guiclass="ArgumentsPanel" testclass="Arguments" testname="User Defined Variables">
        <collectionProp name="Arguments.arguments"/>
      </elementProp>
    </TestPlan>
    <hashTree>
      <ThreadGroup guiclass="ThreadGroupGui" testclass="ThreadGroup" testname="Thread Group">
        <stringProp name="ThreadGroup.on_sample_error">continue</stringProp>
        <elementProp name="ThreadGroup.main_controller" elementType="LoopController" guiclass="LoopControlPanel" testclass="LoopController" testname="Loop Controller">
          <boolProp name="LoopController.continue_forever">false</boolProp>
          <intProp name="LoopController.loops">-1</intProp>
        </elementProp>
        <stringProp name="ThreadGroup.num_threads">{{.Threads}}</stringProp>
        <stringProp name="ThreadGroup.ramp_time">{{.RampUp}}</stringProp>
        <boolProp name="ThreadGroup.scheduler">true</boolProp>
        <stringProp name="ThreadGroup.duration">{{.Duration}}</stringProp>
        <stringProp name="ThreadGroup.delay"></stringProp>
        <boolProp name="ThreadGroup.same_user_on_next_iteration">true</boolProp>
      </ThreadGroup>
      <hashTree>
        <HTTPSamplerProxy guiclass="HttpTestSampleGui" testclass="HTTPSamplerProxy" testname="HTTP Request">
          <elementProp name="HTTPsampler.Arguments" elementType="Arguments" guiclass="HTTPArgumentsPanel" testclass="Arguments" testname="User Defined Variables">
            <collectionProp name="Arguments.arguments"/>
          </elementProp>
          <stringProp name="HTTPSampler.domain">{{x .Domain}}</stringProp>
          <stringProp name="HTTPSampler.port">{{x .Port}}</stringProp>
          <stringProp name="HTTPSampler.protocol">{{x .Protocol}}</stringProp>
          <stringProp name="HTTPSampler.contentEncoding"></stringProp>
          <stringProp name="HTTPSampler.path">{{x .Path}}</stringProp>
          <stringProp name="HTTPSampler.method">GET</stringProp>
          <boolProp name="HTTPSampler.follow_redirects">true</boolProp>
          <boolProp name="HTTPSampler.auto_redirects">false</boolProp>
          <boolProp name="HTTPSampler.use_keepalive">true</boolProp>
          <boolProp name="HTTPSampler.DO_MULTIPART_POST">false</boolProp>
          <stringProp name="HTTPSampler.embedded_url_re"></stringProp>
          <stringProp name="HTTPSampler.connect_timeout"></stringProp>
          <stringProp name="HTTPSampler.response_timeout"></stringProp>
        </HTTPSamplerProxy>
        <hashTree/>
        <ResultCollector guiclass="SimpleDataWriter" testclass="ResultCollector" testname="Sample Log">
          <boolProp name="ResultCollector.error_logging">false</boolProp>
          ` + saveConfig + `
          <stringProp name="filename">{{x .SampleLog}}</stringProp>
        </ResultCollector>
        <hashTree/>
        <ResultCollector guiclass="SummaryReport" testclass="ResultCollector" testname="Summary Report">
          <boolProp name="ResultCollector.error_logging">false</boolProp>
          ` + saveConfig + `
          <stringProp name="filename">{{x .SummaryLog}}</stringProp>
        </ResultCollector>
        <hashTree/>
      </hashTree>
    </hashTree>
  </hashTree>
</jmeterTestPlan>
`
