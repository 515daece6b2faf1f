/*
Package scriptgen renders the text artifacts that go into a task image: the entry script that runs the
task inside the container, and the Dockerfile built from a typed BuildSpec. Nothing is executed here.
*/
package scriptgen

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/guardian/kuberunner/common/models"
)

const (
	DefaultWorkDir    = "/data"
	DefaultInstallDir = "/opt/kuberunner"
	RunnerName        = "kuberunner"
	ScriptName        = "entry.sh"
	TaskCommand       = "task"
)

type ExecParams struct {
	RunId         models.RunID
	RunnerPath    string //path of the runner binary inside the image
	WorkDir       string
	PayloadName   string
	ResultName    string
	Store         models.StoreLocation
	StoreEndpoint string
	StoreRegion   string
	StoreInsecure bool
}

var templateFuncs = template.FuncMap{
	"quote": shellQuote,
	"json":  jsonArray,
}

var execScriptTemplate = template.Must(template.New("entry").Funcs(templateFuncs).Parse(`#!/bin/sh
# task entry for run {{.RunId}}
set -e
mkdir -p {{quote .WorkDir}}
cd {{quote .WorkDir}}
exec {{quote .RunnerPath}} {{.Command}} \
  --workdir {{quote .WorkDir}} \
  --payload {{quote .PayloadName}} \
  --result {{quote .ResultName}}{{if .Store.IsNetwork}} \
  --store {{quote .Store.Raw}}{{if .StoreEndpoint}} \
  --store-endpoint {{quote .StoreEndpoint}}{{end}}{{if .StoreRegion}} \
  --store-region {{quote .StoreRegion}}{{end}}{{if .StoreInsecure}} \
  --store-insecure{{end}}{{end}}
`))

/**
renders the entry script. For a network-backed store the task runner is told where the store is, so it
downloads the payload first and uploads the result afterwards; for a shared path the store is mounted on the
working directory and the script makes no network calls at all
*/
func ExecutionScript(p ExecParams) (string, error) {
	if p.RunnerPath == "" || p.PayloadName == "" || p.ResultName == "" {
		return "", errors.New("runner path, payload name and result name are all required")
	}
	if p.WorkDir == "" {
		p.WorkDir = DefaultWorkDir
	}

	data := struct {
		ExecParams
		Command string
	}{p, TaskCommand}

	var buf bytes.Buffer
	if err := execScriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type BuildFile struct {
	Name    string //name within the build context
	Dest    string //absolute path inside the image
	Mode    uint32
	Content []byte //either Content or Source is set
	Source  string //local file to copy into the build context
}

/**
typed description of a task image
*/
type BuildSpec struct {
	BaseImage  string
	WorkDir    string
	Setup      []string //RUN lines, executed before the files are copied
	Files      []BuildFile
	Entrypoint []string
}

var dockerfileTemplate = template.Must(template.New("dockerfile").Funcs(templateFuncs).Parse(`FROM {{.BaseImage}}
{{range .Setup}}
RUN {{.}}
{{- end}}

WORKDIR {{.WorkDir}}
{{range .Files}}
COPY {{.Name}} {{.Dest}}
{{- end}}

ENTRYPOINT {{json .Entrypoint}}
`))

func (s BuildSpec) Validate() error {
	if s.BaseImage == "" {
		return errors.New("build spec has no base image")
	}
	if len(s.Entrypoint) == 0 {
		return errors.New("build spec has no entry point")
	}
	for _, f := range s.Files {
		if f.Name == "" || strings.Contains(f.Name, "/") {
			return fmt.Errorf("build file name %q must be a plain file name", f.Name)
		}
		if !path.IsAbs(f.Dest) {
			return fmt.Errorf("build file %s needs an absolute destination, got %q", f.Name, f.Dest)
		}
		if f.Source == "" && f.Content == nil {
			return fmt.Errorf("build file %s has neither content nor a source", f.Name)
		}
	}
	return nil
}

func Dockerfile(spec BuildSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	if spec.WorkDir == "" {
		spec.WorkDir = DefaultWorkDir
	}
	var buf bytes.Buffer
	if err := dockerfileTemplate.Execute(&buf, spec); err != nil {
		return "", err
	}
	return buf.String(), nil
}

/**
the standard task image: the runner binary and the entry script under the install dir (so that a volume
mounted on the working directory cannot hide them), entry point set to run the script
*/
func TaskBuildSpec(baseImage string, workDir string, runnerBinary string, script string) BuildSpec {
	return BuildSpec{
		BaseImage: baseImage,
		WorkDir:   workDir,
		Files: []BuildFile{
			{Name: RunnerName, Dest: path.Join(DefaultInstallDir, RunnerName), Mode: 0755, Source: runnerBinary},
			{Name: ScriptName, Dest: path.Join(DefaultInstallDir, ScriptName), Mode: 0755, Content: []byte(script)},
		},
		Entrypoint: []string{"/bin/sh", path.Join(DefaultInstallDir, ScriptName)},
	}
}

func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'"'"'`, -1) + "'"
}

func jsonArray(items []string) (string, error) {
	content, err := json.Marshal(items)
	return string(content), err
}
