// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jwdevries/sysbackup/internal/models"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	var problems []string

	cfg := &models.Config{
		BackupLocation:   p.expandEnv(p.v.GetString("backup_location")),
		RemoteUser:       p.v.GetString("remote_user"),
		DateFormat:       p.v.GetString("backup_date_format"),
		NumberOfVersions: p.v.GetInt("number_of_versions"),
		NeedMountFS:      true,
		EncryptStorage:   p.v.GetBool("encrypt_storage"),
	}

	// Defaults matching long-deployed configuration files.
	if cfg.RemoteUser == "" {
		cfg.RemoteUser = "root"
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = "%Y%m%d"
	}
	if !p.v.IsSet("number_of_versions") {
		cfg.NumberOfVersions = 180
	}
	if p.v.IsSet("need_mount_fs") {
		cfg.NeedMountFS = p.v.GetBool("need_mount_fs")
	}

	if cfg.NumberOfVersions < 0 {
		problems = append(problems, "number_of_versions must not be negative")
	}

	cfg.Targets, problems = p.parseTargets(problems)

	if p.v.IsSet("mount") {
		cfg.Mount = &models.MountConfig{
			MountPoint:     p.v.GetString("mount.mount_point"),
			Type:           p.v.GetString("mount.type"),
			Device:         p.v.GetString("mount.device"),
			Server:         p.v.GetString("mount.server"),
			RemotePath:     p.v.GetString("mount.remote_path"),
			User:           p.v.GetString("mount.user"),
			Password:       p.expandEnv(p.v.GetString("mount.password")),
			CredentialFile: p.expandEnv(p.v.GetString("mount.credential_file")),
			Port:           p.v.GetInt("mount.port"),
			Secure:         p.v.GetBool("mount.secure"),
		}
		if cfg.Mount.MountPoint == "" {
			cfg.Mount.MountPoint = cfg.BackupLocation
		}
		switch cfg.Mount.Type {
		case "", "device", "sshfs", "nfs", "cifs":
		default:
			problems = append(problems, fmt.Sprintf("mount.type %q is not supported", cfg.Mount.Type))
		}
		if cfg.Mount.Type == "sshfs" && (cfg.Mount.Server == "" || cfg.Mount.User == "") {
			problems = append(problems, "mount.server and mount.user are required for sshfs")
		}
		if cfg.Mount.Type == "nfs" && cfg.Mount.Server == "" {
			problems = append(problems, "mount.server is required for nfs")
		}
		if cfg.Mount.Type == "cifs" && cfg.Mount.CredentialFile == "" && (cfg.Mount.User == "" || cfg.Mount.Password == "") {
			problems = append(problems, "mount.credential_file or mount.user/mount.password is required for cifs")
		}
	}

	if p.v.IsSet("encryptfs") {
		cfg.EncryptFS = &models.CryptFSConfig{
			RemoteType:           p.v.GetString("encryptfs.remote_type"),
			RemoteServer:         p.v.GetString("encryptfs.remote_server"),
			RemotePort:           p.v.GetInt("encryptfs.remote_port"),
			RemotePath:           p.v.GetString("encryptfs.remote_path"),
			RemoteUsername:       p.v.GetString("encryptfs.remote_username"),
			RemotePassword:       p.expandEnv(p.v.GetString("encryptfs.remote_password")),
			RemoteCredentialFile: p.expandEnv(p.v.GetString("encryptfs.remote_credential_file")),
			RemoteMountPoint:     p.v.GetString("encryptfs.remote_mount_point"),
			RemoteSecure:         p.v.GetBool("encryptfs.remote_secure"),
			KeyFile:              p.expandEnv(p.v.GetString("encryptfs.key_file")),
			CryptFileName:        p.v.GetString("encryptfs.crypt_file_name"),
			CryptMountPoint:      p.v.GetString("encryptfs.crypt_mount_point"),
		}
		if cfg.EncryptFS.CryptMountPoint == "" {
			cfg.EncryptFS.CryptMountPoint = cfg.BackupLocation
		}
		if cfg.EncryptFS.KeyFile == "" {
			problems = append(problems, "encryptfs.key_file is required when encryptfs is configured")
		}
		if cfg.EncryptFS.CryptFileName == "" {
			problems = append(problems, "encryptfs.crypt_file_name is required when encryptfs is configured")
		}
		if cfg.EncryptFS.RemoteMountPoint == "" {
			problems = append(problems, "encryptfs.remote_mount_point is required when encryptfs is configured")
		}
	} else if cfg.EncryptStorage {
		problems = append(problems, "encrypt_storage is set but no encryptfs section is configured")
	}

	if p.v.IsSet("wol") {
		cfg.WOL = &models.WOLConfig{
			MACAddress:  p.v.GetString("wol.mac_address"),
			BroadcastIP: p.v.GetString("wol.broadcast_ip"),
			SettleWait:  p.v.GetDuration("wol.settle_wait"),
		}
		if cfg.WOL.MACAddress == "" {
			problems = append(problems, "wol.mac_address is required when wol is configured")
		}
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.SettleWait == 0 {
			cfg.WOL.SettleWait = 30 * time.Second
		}
	}

	if p.v.IsSet("mail") {
		cfg.Mail = &models.MailConfig{
			SMTPHost: p.v.GetString("mail.smtp_host"),
			SMTPPort: p.v.GetInt("mail.smtp_port"),
			From:     p.v.GetString("mail.from"),
			To:       p.v.GetStringSlice("mail.to"),
			Username: p.expandEnv(p.v.GetString("mail.username")),
			Password: p.expandEnv(p.v.GetString("mail.password")),
		}
		if cfg.Mail.SMTPHost == "" {
			problems = append(problems, "mail.smtp_host is required when mail is configured")
		}
		if cfg.Mail.SMTPPort == 0 {
			cfg.Mail.SMTPPort = 25
		}
		if cfg.Mail.From == "" {
			problems = append(problems, "mail.from is required when mail is configured")
		}
		if len(cfg.Mail.To) == 0 {
			problems = append(problems, "mail.to is required when mail is configured")
		}
	}

	if p.v.IsSet("hosts") || p.v.IsSet("generic_services") {
		cfg.Services = p.parseServices()
	}

	if p.v.IsSet("mirror") {
		var mirror *models.MirrorConfig
		mirror, problems = p.parseMirror(problems)
		cfg.Mirror = mirror
	}

	if len(problems) > 0 {
		return nil, &models.ConfigError{Problems: problems}
	}

	return cfg, nil
}

// parseTargets reads the source_location section. Server names are sorted
// so a run always visits servers in a stable order.
func (p *Parser) parseTargets(problems []string) ([]models.BackupTarget, []string) {
	raw := p.v.GetStringMap("source_location")

	servers := make([]string, 0, len(raw))
	for server := range raw {
		servers = append(servers, server)
	}
	sort.Strings(servers)

	var targets []models.BackupTarget
	for _, server := range servers {
		entries, err := cast.ToSliceE(raw[server])
		if err != nil {
			problems = append(problems, fmt.Sprintf("source_location.%s must be a list of directories", server))
			continue
		}
		for _, entry := range entries {
			m, err := cast.ToStringMapE(entry)
			if err != nil {
				problems = append(problems, fmt.Sprintf("source_location.%s contains a malformed entry", server))
				continue
			}
			target := models.BackupTarget{
				Server:    server,
				Directory: cast.ToString(m["directory"]),
				Exclude:   cast.ToStringSlice(m["exclude"]),
			}
			if target.Directory == "" {
				problems = append(problems, fmt.Sprintf("source_location.%s has an entry without a directory", server))
				continue
			}
			targets = append(targets, target)
		}
	}

	return targets, problems
}

func (p *Parser) parseServices() *models.ServicesConfig {
	svc := &models.ServicesConfig{
		User:            p.v.GetString("user"),
		GenericServices: p.v.GetStringSlice("generic_services.services"),
	}
	if svc.User == "" {
		svc.User = "root"
	}

	raw := p.v.GetStringMap("hosts")
	hostnames := make([]string, 0, len(raw))
	for hostname := range raw {
		hostnames = append(hostnames, hostname)
	}
	sort.Strings(hostnames)

	for _, hostname := range hostnames {
		m := cast.ToStringMap(raw[hostname])
		svc.Hosts = append(svc.Hosts, models.ServiceHost{
			Hostname: hostname,
			Services: append(append([]string{}, svc.GenericServices...), cast.ToStringSlice(m["services"])...),
			Custom:   cast.ToStringSlice(m["custom"]),
		})
	}

	return svc
}

// parseMirror expands the distribution/version/location tree into concrete
// (source, destination) pairs, applying per-distribution and per-location
// overrides the same way the mirror configuration always has.
func (p *Parser) parseMirror(problems []string) (*models.MirrorConfig, []string) {
	mirror := &models.MirrorConfig{
		SourceLocation:      p.v.GetString("mirror.source_location"),
		DestinationLocation: p.expandEnv(p.v.GetString("mirror.destination_location")),
		Protocol:            p.v.GetString("mirror.protocol"),
	}
	if mirror.Protocol == "" {
		mirror.Protocol = "rsync"
	}
	if mirror.SourceLocation == "" {
		problems = append(problems, "mirror.source_location is required when mirror is configured")
	}
	if mirror.DestinationLocation == "" {
		problems = append(problems, "mirror.destination_location is required when mirror is configured")
	}

	distros := p.v.GetStringMap("mirror.distributions")
	names := make([]string, 0, len(distros))
	for name := range distros {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, distro := range names {
		distroMap := cast.ToStringMap(distros[distro])

		source := mirror.SourceLocation
		protocol := mirror.Protocol
		sourcePath := ""
		if cast.ToBool(distroMap["override"]) {
			if s := cast.ToString(distroMap["source_location"]); s != "" {
				source = s
			}
			if s := cast.ToString(distroMap["protocol"]); s != "" {
				protocol = s
			}
			sourcePath = cast.ToString(distroMap["source_path"])
		}

		versions := cast.ToStringMap(distroMap["versions"])
		versionNames := make([]string, 0, len(versions))
		for version := range versions {
			versionNames = append(versionNames, version)
		}
		sort.Strings(versionNames)

		for _, version := range versionNames {
			entries, err := cast.ToSliceE(versions[version])
			if err != nil {
				problems = append(problems, fmt.Sprintf("mirror.distributions.%s.versions.%s must be a list", distro, version))
				continue
			}
			for _, entry := range entries {
				m := cast.ToStringMap(entry)
				location := cast.ToString(m["location"])
				if location == "" {
					problems = append(problems, fmt.Sprintf("mirror.distributions.%s.versions.%s has an entry without a location", distro, version))
					continue
				}

				entrySource := source
				entryProtocol := protocol
				entrySourcePath := sourcePath
				sourceDistro := distro
				destDistro := distro
				altDestination := ""
				if cast.ToBool(m["override"]) {
					if s := cast.ToString(m["source_location"]); s != "" {
						entrySource = s
					}
					if s := cast.ToString(m["protocol"]); s != "" {
						entryProtocol = s
					}
					entrySourcePath = cast.ToString(m["source_path"])
					if s := cast.ToString(m["source_distribution"]); s != "" {
						sourceDistro = s
					}
					if s := cast.ToString(m["destination_distribution"]); s != "" {
						destDistro = s
					}
					altDestination = cast.ToString(m["alt_destination"])
				}

				sourceURL := fmt.Sprintf("%s/%s/%s", entrySource, sourceDistro, location)
				if entrySourcePath != "" {
					sourceURL = fmt.Sprintf("%s/%s/%s/%s", entrySource, entrySourcePath, sourceDistro, location)
				}
				destination := fmt.Sprintf("%s/%s/%s", mirror.DestinationLocation, destDistro, location)
				if altDestination != "" {
					destination = fmt.Sprintf("%s/%s/%s", mirror.DestinationLocation, destDistro, altDestination)
				}

				mirror.Locations = append(mirror.Locations, models.MirrorLocation{
					Protocol:    entryProtocol,
					Source:      sourceURL,
					Destination: destination,
				})
			}
		}
	}

	return mirror, problems
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate checks that the loaded configuration can drive a backup run.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return &models.ConfigError{Problems: []string{"configuration is nil"}}
	}

	var problems []string
	if cfg.BackupLocation == "" {
		problems = append(problems, "backup_location is required")
	}
	if len(cfg.Targets) == 0 {
		problems = append(problems, "source_location must define at least one directory")
	}
	if len(problems) > 0 {
		return &models.ConfigError{Problems: problems}
	}

	return nil
}
