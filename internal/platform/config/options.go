package config

import "context"

// Option customises Load and EnvironmentValues.
type Option func(*loadSettings)

type loadSettings struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoadSettings(opts []Option) loadSettings {
	settings := loadSettings{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	return settings
}

// WithEnvFile reads the dotenv file at path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(s *loadSettings) {
		s.envFile = path
	}
}

// WithEnvMap layers values over the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(s *loadSettings) {
		s.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(s *loadSettings) {
		s.useSystemEnv = false
	}
}

// WithSecretResolver resolves secret:// and sm:// references in credential fields.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(s *loadSettings) {
		s.secret = resolver
	}
}

// WithRequiredSecrets names config fields, such as "Postgres.DSN", that must end up with a
// non-empty value after resolution.
func WithRequiredSecrets(names ...string) Option {
	return func(s *loadSettings) {
		s.requiredSecrets = append(s.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets makes Load panic with a *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(s *loadSettings) {
		s.panicOnMissingSecrets = true
	}
}
