package helpers

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/models"
	"gopkg.in/yaml.v2"
	"k8s.io/apimachinery/pkg/api/resource"
)

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DBNum    int    `yaml:"dbNum"`
}

type Config struct {
	BaseImage           string      `yaml:"baseimage" validate:"required"`
	KubeConfig          string      `yaml:"kubeconfig" validate:"required"`
	KubeContext         string      `yaml:"kubecontext" validate:"required"`
	Namespace           string      `yaml:"namespace" validate:"required,hostname_rfc1123"`
	ImageRepo           string      `yaml:"imagerepo" validate:"required"`
	Registry            string      `yaml:"registry"`
	RegistryCredentials string      `yaml:"registrycredentials"`
	DataStore           string      `yaml:"datastore" validate:"required"`
	StoreEndpoint       string      `yaml:"storeendpoint"`
	StoreRegion         string      `yaml:"storeregion"`
	StoreInsecure       bool        `yaml:"storeinsecure"`
	VCPU                string      `yaml:"vcpu" validate:"required"`
	Memory              string      `yaml:"memory" validate:"required"`
	PollFreq            int         `yaml:"pollfreq" validate:"min=1"`
	CacheDir            string      `yaml:"cachedir" validate:"required"`
	RunnerBinary        string      `yaml:"runnerbinary" validate:"required"`
	LoaderCommand       []string    `yaml:"loadercommand" validate:"min=1"`
	FailOnJobFailure    bool        `yaml:"failonjobfailure"`
	CollectLogs         bool        `yaml:"collectlogs"`
	Debug               bool        `yaml:"debug"`
	Redis               RedisConfig `yaml:"redis"`

	//resolved by Validate, never read from the file
	Store        models.StoreLocation `yaml:"-"`
	RegistryMode models.RegistryMode  `yaml:"-"`
}

const (
	DefaultBaseImage = "alpine:3.19"
	DefaultImageRepo = "kuberunner-task"
	DefaultRegistry  = "localhost"
	DefaultNamespace = "default"
	DefaultVCPU      = "500m"
	DefaultMemory    = "1G"
	DefaultPollFreq  = 10
)

var DefaultLoaderCommand = []string{"minikube", "image", "load"}

var validate = validator.New()

func ReadConfig(configFile string) (*Config, error) {
	configBytes, readErr := ioutil.ReadFile(configFile)
	if readErr != nil {
		return nil, errs.Configuration("read config "+configFile, readErr)
	}

	var conf Config

	err := yaml.Unmarshal(configBytes, &conf)
	if err != nil {
		return nil, errs.Configuration("parse config "+configFile, err)
	}
	return &conf, nil
}

/**
fills in anything left empty. HOME-derived paths and the current executable are looked up here, once,
so nothing downstream needs to consult the environment
*/
func (c *Config) ApplyDefaults() error {
	if c.BaseImage == "" {
		c.BaseImage = DefaultBaseImage
	}
	if c.ImageRepo == "" {
		c.ImageRepo = DefaultImageRepo
	}
	if c.Registry == "" {
		c.Registry = DefaultRegistry
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.VCPU == "" {
		c.VCPU = DefaultVCPU
	}
	if c.Memory == "" {
		c.Memory = DefaultMemory
	}
	if c.PollFreq == 0 {
		c.PollFreq = DefaultPollFreq
	}
	if len(c.LoaderCommand) == 0 {
		c.LoaderCommand = append([]string{}, DefaultLoaderCommand...)
	}

	if c.KubeConfig == "" || c.CacheDir == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return errs.Configuration("resolve home directory", homeErr)
		}
		if c.KubeConfig == "" {
			c.KubeConfig = filepath.Join(home, ".kube", "config")
		}
		if c.CacheDir == "" {
			c.CacheDir = filepath.Join(home, ".cache", "kuberunner")
		}
	}

	if c.RunnerBinary == "" {
		exe, exeErr := os.Executable()
		if exeErr != nil {
			return errs.Configuration("resolve runner binary", exeErr)
		}
		c.RunnerBinary = exe
	}
	return nil
}

/**
checks that everything the pipeline needs is present and resolves the store and registry variants.
any failure here is a ConfigurationError
*/
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Configuration("validate config", err)
	}

	for name, qty := range map[string]string{"vcpu": c.VCPU, "memory": c.Memory} {
		if _, err := resource.ParseQuantity(qty); err != nil {
			return errs.Configuration("validate config", fmt.Errorf("%s %q is not a valid quantity: %w", name, qty, err))
		}
	}

	store, storeErr := models.ParseStoreLocation(c.DataStore)
	if storeErr != nil {
		return errs.Configuration("validate config", storeErr)
	}
	if overlapErr := checkCacheOutsideStore(c.CacheDir, store); overlapErr != nil {
		return errs.Configuration("validate config", overlapErr)
	}
	c.Store = store
	c.RegistryMode = models.ParseRegistryMode(c.Registry)

	if strings.TrimSpace(c.LoaderCommand[0]) == "" {
		return errs.Configuration("validate config", fmt.Errorf("loader command is empty"))
	}
	return nil
}

/**
the local cache deletes its copies once they have been handed over, so a cache that shares files with a
shared path store would remove the payload before the job could read it
*/
func checkCacheOutsideStore(cacheDir string, store models.StoreLocation) error {
	if store.Scheme != models.STORE_SHARED_PATH {
		return nil
	}
	absCache, absErr := filepath.Abs(cacheDir)
	if absErr != nil {
		return fmt.Errorf("could not resolve cache dir %q: %w", cacheDir, absErr)
	}
	rel, relErr := filepath.Rel(store.Root, absCache)
	if relErr != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("cache dir %s must not be inside the data store %s", absCache, store.Root)
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollFreq) * time.Second
}

// LoadConfig is ReadConfig + ApplyDefaults + Validate.
func LoadConfig(configFile string) (*Config, error) {
	conf, err := ReadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := conf.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
