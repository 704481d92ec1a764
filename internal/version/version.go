package version

import "fmt"

// Заполняются через -ldflags при сборке.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Short возвращает только номер версии.
func Short() string { return version }

// String возвращает полную строку версии для логов и флага --version.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent возвращает значение User-Agent для исходящих HTTP-клиентов.
func UserAgent() string {
	return "storefront/" + version
}
