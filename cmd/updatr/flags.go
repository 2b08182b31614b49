package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Repo       string
	LogLevel   string
	Verbose    bool
}

// RemoteFlags select a running server instead of the local repository.
type RemoteFlags struct {
	APIUrl      string
	APITimeout  time.Duration
	APICACert   string
	APIInsecure bool
}

type StatusFlags struct {
	RemoteFlags
	JSON bool
}

type OperationFlags struct {
	RemoteFlags
}

type RunFlags struct {
	Dir string
}

type ServeFlags struct {
	Listen    string
	BasePath  string
	Daemonize bool
	PidFile   string
	LogFile   string
	TLS       TLSFlags
}

// TLSFlags select the serving certificate; see internal/tls.Options.
type TLSFlags struct {
	CertFile   string
	KeyFile    string
	Dir        string
	Auto       bool
	MinVersion string
}

type HistoryFlags struct {
	Limit int
	JSON  bool
}
