package tui

type stage int

const (
	stageChat stage = iota
	stageRename
	stageConfirmDelete
)

const (
	heroTagline    = "Chat from the terminal."
	loadingMessage = "Loading conversations…"
)

const (
	minViewportWidth  = 30
	minSidebarWidth   = 18
	maxSidebarWidth   = 32
	sidebarGutter     = 3
	transcriptPadding = 4
)

const (
	composerPlaceholder       = "Type a message, or /pdf <path> to import a PDF…"
	composerLockedPlaceholder = "Recording… ctrl+t to stop, esc to discard."
	renamePlaceholder         = "New title"
	attachCommandPrefix       = "/pdf "
)
