package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles and gradual rollouts.
//
// The community runs on trust: enforcement and nagging are the features most
// likely to need a quick kill switch, so everything user-visible sits behind
// a flag with per-user overrides for moderator testing.
type FeatureFlags struct {
	mu sync.RWMutex

	// Core features
	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // discordID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Users are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID  string // Discord ID
	IsAdmin bool   // Is admin user
}

// Predefined feature flag names.
const (
	// === Presence Engine ===
	FeaturePresenceEnforcement = "presence.enforcement" // disconnect + flag on missed check-in
	FeaturePresencePrompts     = "presence.prompts"     // post check-in prompts at all
	FeaturePresenceStreaks     = "presence.streaks"     // streak tracking in the ledger

	// === Break Monitoring ===
	FeatureBreakDwellNag     = "break.dwell_nag"     // long-break reminder DMs
	FeatureBreakFrequencyNag = "break.frequency_nag" // too-many-breaks nag

	// === Notifications ===
	FeatureNotifyQuietHours = "notify.quiet_hours" // suppress advisory nags at night

	// === Triggers ===
	FeatureTriggerKeywords = "trigger.keywords" // keyword-based session triggers

	// === Experimental ===
	FeatureExperimentalMultiGuild = "experimental.multi_guild" // serve more than one guild
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	// Presence features - the product core, enabled by default
	ff.features[FeaturePresencePrompts] = &Feature{
		Name:           FeaturePresencePrompts,
		Description:    "Post check-in prompts for attendance sessions",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeaturePresenceEnforcement] = &Feature{
		Name:           FeaturePresenceEnforcement,
		Description:    "Disconnect and flag users who miss check-ins",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeaturePresenceStreaks] = &Feature{
		Name:           FeaturePresenceStreaks,
		Description:    "Track daily confirmation streaks",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Break features - advisory only, tuned to avoid feeling like surveillance
	ff.features[FeatureBreakDwellNag] = &Feature{
		Name:           FeatureBreakDwellNag,
		Description:    "Remind users who linger in break rooms",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureBreakFrequencyNag] = &Feature{
		Name:           FeatureBreakFrequencyNag,
		Description:    "Nag users taking too many breaks per hour",
		Enabled:        true,
		RolloutPercent: 50, // Gradual rollout - the tone is easy to get wrong
	}

	ff.features[FeatureNotifyQuietHours] = &Feature{
		Name:           FeatureNotifyQuietHours,
		Description:    "Suppress advisory nags during night hours",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureTriggerKeywords] = &Feature{
		Name:           FeatureTriggerKeywords,
		Description:    "Open sessions from keyword mentions in chat",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Experimental features - disabled by default
	ff.features[FeatureExperimentalMultiGuild] = &Feature{
		Name:           FeatureExperimentalMultiGuild,
		Description:    "Serve multiple guilds from one process",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_PRESENCE_ENFORCEMENT=false
// Example: FEATURE_BREAK_FREQUENCY_NAG=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "break.dwell_nag" -> "FEATURE_BREAK_DWELL_NAG"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check user overrides first
	if ctx != nil && ctx.UserID != "" {
		if userOverrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := userOverrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin users get all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" {
		return ff.isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a user is in the rollout percentage.
// Uses consistent hashing so users stay in their bucket.
func (ff *FeatureFlags) isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// SetUserOverride sets a feature override for a specific user.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Convenience methods for common checks ---

// NagsEnabled checks if any advisory nag can fire for the user.
func (ff *FeatureFlags) NagsEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureBreakDwellNag, ctx) ||
		ff.IsEnabled(FeatureBreakFrequencyNag, ctx)
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
