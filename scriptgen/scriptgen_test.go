package scriptgen

import (
	"strings"
	"testing"

	"github.com/guardian/kuberunner/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(t *testing.T, store string) ExecParams {
	loc, err := models.ParseStoreLocation(store)
	require.NoError(t, err)
	id, _ := models.ParseRunID("047eeac1-f13f-4a13-865e-61974d48607e")
	return ExecParams{
		RunId:       id,
		RunnerPath:  "/opt/kuberunner/kuberunner",
		WorkDir:     "/data",
		PayloadName: id.PayloadName(),
		ResultName:  id.ResultName(),
		Store:       loc,
	}
}

func TestExecutionScript_sharedPath(t *testing.T) {
	script, err := ExecutionScript(params(t, "/mnt/exchange"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
	assert.Contains(t, script, "exec '/opt/kuberunner/kuberunner' task")
	assert.Contains(t, script, "--payload 'func-047eeac1-f13f-4a13-865e-61974d48607e.cbor'")
	assert.Contains(t, script, "--result 'result-047eeac1-f13f-4a13-865e-61974d48607e.cbor'")
	assert.NotContains(t, script, "--store", "a shared path store should not make the task touch the network")
}

func TestExecutionScript_objectStorage(t *testing.T) {
	p := params(t, "s3://exchange-bucket/runs")
	p.StoreRegion = "eu-west-1"
	script, err := ExecutionScript(p)
	require.NoError(t, err)

	assert.Contains(t, script, "--store 's3://exchange-bucket/runs'")
	assert.Contains(t, script, "--store-region 'eu-west-1'")
	assert.NotContains(t, script, "--store-endpoint")
	assert.NotContains(t, script, "--store-insecure")
}

func TestExecutionScript_missingNames(t *testing.T) {
	p := params(t, "/mnt/exchange")
	p.ResultName = ""
	_, err := ExecutionScript(p)
	assert.Error(t, err)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'"'"'s'`, shellQuote("it's"))
}

func TestDockerfile(t *testing.T) {
	spec := TaskBuildSpec("alpine:3.19", "/data", "/usr/local/bin/kuberunner", "#!/bin/sh\n")
	spec.Setup = []string{"apk add --no-cache ca-certificates"}

	dockerfile, err := Dockerfile(spec)
	require.NoError(t, err)

	expected := `FROM alpine:3.19

RUN apk add --no-cache ca-certificates

WORKDIR /data

COPY kuberunner /opt/kuberunner/kuberunner
COPY entry.sh /opt/kuberunner/entry.sh

ENTRYPOINT ["/bin/sh","/opt/kuberunner/entry.sh"]
`
	assert.Equal(t, expected, dockerfile)
}

func TestDockerfile_invalid(t *testing.T) {
	_, noBase := Dockerfile(BuildSpec{Entrypoint: []string{"/bin/true"}})
	assert.Error(t, noBase)

	_, noEntry := Dockerfile(BuildSpec{BaseImage: "alpine"})
	assert.Error(t, noEntry)

	_, badName := Dockerfile(BuildSpec{
		BaseImage:  "alpine",
		Entrypoint: []string{"/bin/true"},
		Files:      []BuildFile{{Name: "../escape", Dest: "/x", Content: []byte("x")}},
	})
	assert.Error(t, badName)
}
