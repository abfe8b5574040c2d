package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rle/grps/internal/domain"
)

// UserIDFromKey strips prefix from a datastore key, when present, and parses the
// rest as a user id.
func UserIDFromKey(key, prefix string) (int64, bool) {
	rest := strings.TrimPrefix(key, prefix)
	if rest == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// decodeEntry parses a datastore value, returning false for anything but a JSON object.
func decodeEntry(raw json.RawMessage) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// BuildSnapshotPayload maps a datastore entry onto the snapshot wire form. Game
// versions disagree on field names, so each field lists its aliases and the
// first one present wins. Counters default to 0 and the username to "User <id>".
func BuildSnapshotPayload(fields map[string]any, keyUserID int64) (domain.SnapshotPayload, error) {
	var (
		p    domain.SnapshotPayload
		errs []string
	)
	integer := func(def int64, keys ...string) *int64 {
		v, ok, err := firstInt(fields, keys...)
		if err != nil {
			errs = append(errs, err.Error())
		}
		if !ok {
			v = def
		}
		return &v
	}

	userID := keyUserID
	if v, ok, err := firstInt(fields, "userId"); err != nil {
		errs = append(errs, err.Error())
	} else if ok {
		userID = v
	}
	p.UserID = &userID

	username := fmt.Sprintf("User %d", keyUserID)
	if v, ok := firstString(fields, "username", "name"); ok {
		username = v
	}
	p.Username = &username

	if v, ok := firstString(fields, "displayName"); ok {
		p.DisplayName = &v
	}
	if v, ok := firstString(fields, "rank", "role"); ok {
		p.Rank = &v
	}

	p.RankPoints = integer(0, "rankPoints", "points")
	p.KOs = integer(0, "kos", "kills")
	p.WOs = integer(0, "wos", "deaths")
	p.Warnings = integer(0, "warnings", "warns")
	p.Recommendations = integer(0, "recommendations", "recs")

	if v, ok := firstString(fields, "punishmentStatus"); ok {
		p.PunishmentStatus = &v
	}
	if v, ok := firstString(fields, "punishmentExpiresAt"); ok {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("punishmentExpiresAt: %v", err))
		} else {
			p.PunishmentExpiresAt = &t
		}
	}
	if v, ok, err := firstInt(fields, "groupId"); err != nil {
		errs = append(errs, err.Error())
	} else if ok {
		p.GroupID = &v
	}

	if exp, ok := fields["experience"].(map[string]any); ok {
		ctx, err := experienceFrom(exp)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			p.Experience = ctx
		}
	}

	p.Metadata = map[string]any{}
	if meta, ok := fields["metadata"].(map[string]any); ok {
		p.Metadata = meta
	}

	if len(errs) > 0 {
		return p, fmt.Errorf("malformed entry: %s", strings.Join(errs, "; "))
	}
	return p, nil
}

func firstString(fields map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t, true
		case json.Number:
			return t.String(), true
		}
	}
	return "", false
}

func firstInt(fields map[string]any, keys ...string) (int64, bool, error) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		n, err := toInt64(v)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", k, err)
		}
		return n, true, nil
	}
	return 0, false, nil
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t.String())
		}
		return floatToInt(f)
	case float64:
		return floatToInt(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("out of range: %v", f)
	}
	return int64(f), nil
}

func experienceFrom(raw map[string]any) (*domain.ExperienceContext, error) {
	var ctx domain.ExperienceContext
	if v, ok, err := firstInt(raw, "universeId"); err != nil {
		return nil, fmt.Errorf("experience.%w", err)
	} else if ok {
		ctx.UniverseID = &v
	}
	if v, ok, err := firstInt(raw, "placeId"); err != nil {
		return nil, fmt.Errorf("experience.%w", err)
	} else if ok {
		ctx.PlaceID = &v
	}
	if v, ok := firstString(raw, "server"); ok {
		ctx.Server = &v
	}
	if v, ok := firstString(raw, "experienceKey"); ok {
		ctx.ExperienceKey = &v
	}
	return &ctx, nil
}
