package storage

import "strings"

// ValidatePath enforces the shared rules for every serving path: non-empty,
// no surrounding whitespace, no traversal, no leading slash, and the
// "public" prefix stays reserved for the anonymous route. Callers trim
// before validating so the stored value is exactly what gets matched
// against request paths.
func ValidatePath(path string) error {
	p := path
	if p == "" || p != strings.TrimSpace(p) {
		return validationf("path must not be empty or have surrounding whitespace")
	}
	if strings.HasPrefix(p, "/") {
		return validationf("path must not start with '/'")
	}
	if strings.Contains(p, "..") {
		return validationf("path must not contain '..'")
	}
	if p == "public" || strings.HasPrefix(p, "public/") {
		return validationf("path 'public' is reserved")
	}
	return nil
}

// NormalizePublicICSPath applies the clearing semantics: the alias only
// exists while the public gate is on, and an empty alias is stored as null.
func NormalizePublicICSPath(publicICS bool, path *string) *string {
	if !publicICS || path == nil {
		return nil
	}
	p := strings.TrimSpace(*path)
	if p == "" {
		return nil
	}
	return &p
}

func (in *CreateSource) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return validationf("name must not be empty")
	}
	if strings.TrimSpace(in.CalDAVURL) == "" {
		return validationf("caldav_url must not be empty")
	}
	if in.SyncIntervalSecs < 0 {
		return validationf("sync_interval_secs must not be negative")
	}
	in.ICSPath = strings.TrimSpace(in.ICSPath)
	if err := ValidatePath(in.ICSPath); err != nil {
		return err
	}
	in.PublicICSPath = NormalizePublicICSPath(in.PublicICS, in.PublicICSPath)
	if in.PublicICSPath != nil {
		if err := ValidatePath(*in.PublicICSPath); err != nil {
			return err
		}
		if *in.PublicICSPath == in.ICSPath {
			return validationf("public_ics_path must differ from ics_path")
		}
	}
	return nil
}

func (in *UpdateSource) Validate() error {
	c := CreateSource{
		Name:             in.Name,
		CalDAVURL:        in.CalDAVURL,
		ICSPath:          in.ICSPath,
		PublicICS:        in.PublicICS,
		PublicICSPath:    in.PublicICSPath,
		SyncIntervalSecs: in.SyncIntervalSecs,
	}
	if err := c.Validate(); err != nil {
		return err
	}
	in.ICSPath = c.ICSPath
	in.PublicICSPath = c.PublicICSPath
	return nil
}

func (in *CreateDestination) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return validationf("name must not be empty")
	}
	if strings.TrimSpace(in.ICSURL) == "" {
		return validationf("ics_url must not be empty")
	}
	if strings.TrimSpace(in.CalDAVURL) == "" {
		return validationf("caldav_url must not be empty")
	}
	if in.SyncIntervalSecs < 0 {
		return validationf("sync_interval_secs must not be negative")
	}
	return nil
}

func (in *UpdateDestination) Validate() error {
	c := CreateDestination{
		Name:             in.Name,
		ICSURL:           in.ICSURL,
		CalDAVURL:        in.CalDAVURL,
		SyncIntervalSecs: in.SyncIntervalSecs,
	}
	return c.Validate()
}

func (in *CreateSourcePath) Validate() error {
	in.Path = strings.TrimSpace(in.Path)
	return ValidatePath(in.Path)
}

func (in *UpdateSourcePath) Validate() error {
	in.Path = strings.TrimSpace(in.Path)
	return ValidatePath(in.Path)
}
