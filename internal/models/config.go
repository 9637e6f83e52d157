// Package models contains the data structures used throughout sysbackup.
package models

import "time"

// Config holds the complete configuration for all subcommands.
type Config struct {
	BackupLocation   string
	RemoteUser       string
	DateFormat       string // strftime layout, e.g. %Y%m%d
	NumberOfVersions int
	NeedMountFS      bool
	EncryptStorage   bool
	Targets          []BackupTarget
	Mount            *MountConfig    // nil if not configured
	EncryptFS        *CryptFSConfig  // nil if not configured
	WOL              *WOLConfig      // nil if not configured
	Mail             *MailConfig     // nil if not configured
	Services         *ServicesConfig // nil if not configured
	Mirror           *MirrorConfig   // nil if not configured
}

// BackupTarget is one (server, directory) pair to back up.
// Immutable once loaded from configuration.
type BackupTarget struct {
	Server    string
	Directory string
	Exclude   []string
}

// MountConfig describes how the backup filesystem is mounted when it is
// not resolvable through /etc/fstab.
type MountConfig struct {
	MountPoint     string // defaults to BackupLocation
	Type           string // "", "device", "sshfs", "nfs", "cifs"
	Device         string
	Server         string
	RemotePath     string
	User           string
	Password       string
	CredentialFile string
	Port           int
	Secure         bool
}

// CryptFSConfig describes the encrypted backing volume.
type CryptFSConfig struct {
	RemoteType           string // "sshfs" or "cifs"
	RemoteServer         string
	RemotePort           int
	RemotePath           string
	RemoteUsername       string
	RemotePassword       string
	RemoteCredentialFile string
	RemoteMountPoint     string
	RemoteSecure         bool
	KeyFile              string
	CryptFileName        string
	CryptMountPoint      string // defaults to BackupLocation
}

// WOLConfig wakes the storage host before a backup run.
type WOLConfig struct {
	MACAddress  string
	BroadcastIP string
	SettleWait  time.Duration
}

// MailConfig enables the end-of-run summary mail.
type MailConfig struct {
	SMTPHost string
	SMTPPort int
	From     string
	To       []string
	Username string
	Password string
}

// ServicesConfig drives the remote service-status checks.
type ServicesConfig struct {
	User            string
	GenericServices []string
	Hosts           []ServiceHost
}

// ServiceHost is one host with its configured services and custom checks.
type ServiceHost struct {
	Hostname string
	Services []string
	Custom   []string
}

// MirrorConfig drives the package-mirror synchronization.
type MirrorConfig struct {
	SourceLocation      string
	DestinationLocation string
	Protocol            string
	Locations           []MirrorLocation
}

// MirrorLocation is one fully resolved (source URL, destination path) pair.
type MirrorLocation struct {
	Protocol    string
	Source      string
	Destination string
}
