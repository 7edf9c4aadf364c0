package app

// Set at build time with -ldflags "-X github.com/laniot/laniot-signer/pkg/app.Version=..."
var Version = "0.1.0"

var (
	GitBranch,
	GitHash,
	BuildDate,
	BuildUser string
)

const Repository = "github.com/laniot/laniot-signer"

type AppVersion struct {
	Name       string `json:"name" yaml:"name"`
	Repository string `json:"repository" yaml:"repository"`
	Version    string `json:"version" yaml:"version"`
	GitBranch  string `json:"gitBranch" yaml:"gitBranch"`
	GitHash    string `json:"gitHash" yaml:"gitHash"`
	BuildDate  string `json:"buildDate" yaml:"buildDate"`
	BuildUser  string `json:"buildUser" yaml:"buildUser"`
}

func GetVersion() *AppVersion {
	return &AppVersion{
		Name:       Name,
		Repository: Repository,
		Version:    Version,
		GitBranch:  GitBranch,
		GitHash:    GitHash,
		BuildDate:  BuildDate,
		BuildUser:  BuildUser}
}
