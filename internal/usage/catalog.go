package usage

// CatalogEntry names one feature that is pre-seeded into an empty record.
type CatalogEntry struct {
	ID   string
	Name string
}

// DefaultCatalog is the dashboard's built-in feature list, in display order.
var DefaultCatalog = []CatalogEntry{
	// Bottom panel
	{ID: "btn_archive", Name: "Архив"},
	{ID: "btn_downloads", Name: "Загрузки"},
	{ID: "btn_ai_chat", Name: "Чат AI"},
	{ID: "btn_assistant", Name: "Помощник"},
	{ID: "btn_mcrm", Name: "MCRM"},

	// Right panel
	{ID: "btn_telegram", Name: "Telegram"},
	{ID: "btn_max", Name: "MAX"},
	{ID: "btn_wcp", Name: "WCP"},
	{ID: "btn_mail", Name: "Почта"},

	// AI
	{ID: "ai_voice_message", Name: "Голосовое сообщение"},
	{ID: "ai_text_message", Name: "Текстовое сообщение"},

	// Files
	{ID: "file_open", Name: "Открытие файла"},
	{ID: "folder_navigate", Name: "Навигация по папкам"},
	{ID: "tab_downloads", Name: "Вкладка Загрузки"},
	{ID: "tab_clients", Name: "Вкладка Клиенты"},
}
