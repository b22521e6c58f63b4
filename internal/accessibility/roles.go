package accessibility

import (
	"fmt"

	"github.com/jimfengnpu/everywhere/internal/element"
)

// Role is an AT-SPI role code.
type Role uint32

const (
	RoleInvalid Role = iota
	RoleAcceleratorLabel
	RoleAlert
	RoleAnimation
	RoleArrow
	RoleCalendar
	RoleCanvas
	RoleCheckBox
	RoleCheckMenuItem
	RoleColorChooser
	RoleColumnHeader
	RoleComboBox
	RoleDateEditor
	RoleDesktopIcon
	RoleDesktopFrame
	RoleDial
	RoleDialog
	RoleDirectoryPane
	RoleDrawingArea
	RoleFileChooser
	RoleFiller
	RoleFocusTraversable
	RoleFontChooser
	RoleFrame
	RoleGlassPane
	RoleHTMLContainer
	RoleIcon
	RoleImage
	RoleInternalFrame
	RoleLabel
	RoleLayeredPane
	RoleList
	RoleListItem
	RoleMenu
	RoleMenuBar
	RoleMenuItem
	RoleOptionPane
	RolePageTab
	RolePageTabList
	RolePanel
	RolePasswordText
	RolePopupMenu
	RoleProgressBar
	RolePushButton
	RoleRadioButton
	RoleRadioMenuItem
	RoleRootPane
	RoleRowHeader
	RoleScrollBar
	RoleScrollPane
	RoleSeparator
	RoleSlider
	RoleSpinButton
	RoleSplitPane
	RoleStatusBar
	RoleTable
	RoleTableCell
	RoleTableColumnHeader
	RoleTableRowHeader
	RoleTearoffMenuItem
	RoleTerminal
	RoleText
	RoleToggleButton
	RoleToolBar
	RoleToolTip
	RoleTree
	RoleTreeTable
	RoleUnknown
	RoleViewport
	RoleWindow
	RoleExtended
	RoleHeader
	RoleFooter
	RoleParagraph
	RoleRuler
	RoleApplication
	RoleAutocomplete
	RoleEditbar
	RoleEmbedded
	RoleEntry
	RoleChart
	RoleCaption
	RoleDocumentFrame
	RoleHeading
	RolePage
	RoleSection
	RoleRedundantObject
	RoleForm
	RoleLink
	RoleInputMethodWindow
	RoleTableRow
	RoleTreeItem
	RoleDocumentSpreadsheet
	RoleDocumentPresentation
	RoleDocumentText
	RoleDocumentWeb
	RoleDocumentEmail
	RoleComment
	RoleListBox
	RoleGrouping
	RoleImageMap
	RoleNotification
	RoleInfoBar
	RoleLevelBar
	RoleTitleBar
	RoleBlockQuote
	RoleAudio
	RoleVideo
	RoleDefinition
	RoleArticle
	RoleLandmark
	RoleLog
	RoleMarquee
	RoleMath
	RoleRating
	RoleTimer
	RoleStatic
	RoleMathFraction
	RoleMathRoot
	RoleSubscript
	RoleSuperscript
	RoleDescriptionList
	RoleDescriptionTerm
	RoleDescriptionValue
	RoleFootnote
	RoleContentDeletion
	RoleContentInsertion
	RoleMark
	RoleSuggestion
	RolePushButtonMenu
	RoleSwitch

	roleCount
)

type roleInfo struct {
	name string
	typ  element.Type
}

// roleTable is indexed by Role and covers every defined role.
var roleTable = [roleCount]roleInfo{
	RoleInvalid:              {"invalid", element.TypeUnknown},
	RoleAcceleratorLabel:     {"accelerator label", element.TypeLabel},
	RoleAlert:                {"alert", element.TypeTopLevel},
	RoleAnimation:            {"animation", element.TypeImage},
	RoleArrow:                {"arrow", element.TypeButton},
	RoleCalendar:             {"calendar", element.TypePanel},
	RoleCanvas:               {"canvas", element.TypePanel},
	RoleCheckBox:             {"check box", element.TypeCheckBox},
	RoleCheckMenuItem:        {"check menu item", element.TypeMenuItem},
	RoleColorChooser:         {"color chooser", element.TypeTopLevel},
	RoleColumnHeader:         {"column header", element.TypeDataGridItem},
	RoleComboBox:             {"combo box", element.TypeComboBox},
	RoleDateEditor:           {"date editor", element.TypeTextEdit},
	RoleDesktopIcon:          {"desktop icon", element.TypeImage},
	RoleDesktopFrame:         {"desktop frame", element.TypePanel},
	RoleDial:                 {"dial", element.TypeSlider},
	RoleDialog:               {"dialog", element.TypeTopLevel},
	RoleDirectoryPane:        {"directory pane", element.TypePanel},
	RoleDrawingArea:          {"drawing area", element.TypePanel},
	RoleFileChooser:          {"file chooser", element.TypeTopLevel},
	RoleFiller:               {"filler", element.TypePanel},
	RoleFocusTraversable:     {"focus traversable", element.TypeUnknown},
	RoleFontChooser:          {"font chooser", element.TypeTopLevel},
	RoleFrame:                {"frame", element.TypeTopLevel},
	RoleGlassPane:            {"glass pane", element.TypePanel},
	RoleHTMLContainer:        {"html container", element.TypePanel},
	RoleIcon:                 {"icon", element.TypeImage},
	RoleImage:                {"image", element.TypeImage},
	RoleInternalFrame:        {"internal frame", element.TypePanel},
	RoleLabel:                {"label", element.TypeLabel},
	RoleLayeredPane:          {"layered pane", element.TypePanel},
	RoleList:                 {"list", element.TypeListView},
	RoleListItem:             {"list item", element.TypeListViewItem},
	RoleMenu:                 {"menu", element.TypeMenu},
	RoleMenuBar:              {"menu bar", element.TypeMenu},
	RoleMenuItem:             {"menu item", element.TypeMenuItem},
	RoleOptionPane:           {"option pane", element.TypePanel},
	RolePageTab:              {"page tab", element.TypeTabItem},
	RolePageTabList:          {"page tab list", element.TypeTabControl},
	RolePanel:                {"panel", element.TypePanel},
	RolePasswordText:         {"password text", element.TypeTextEdit},
	RolePopupMenu:            {"popup menu", element.TypeMenu},
	RoleProgressBar:          {"progress bar", element.TypeProgressBar},
	RolePushButton:           {"push button", element.TypeButton},
	RoleRadioButton:          {"radio button", element.TypeRadioButton},
	RoleRadioMenuItem:        {"radio menu item", element.TypeMenuItem},
	RoleRootPane:             {"root pane", element.TypePanel},
	RoleRowHeader:            {"row header", element.TypeDataGridItem},
	RoleScrollBar:            {"scroll bar", element.TypeScrollBar},
	RoleScrollPane:           {"scroll pane", element.TypePanel},
	RoleSeparator:            {"separator", element.TypePanel},
	RoleSlider:               {"slider", element.TypeSlider},
	RoleSpinButton:           {"spin button", element.TypeSpinner},
	RoleSplitPane:            {"split pane", element.TypePanel},
	RoleStatusBar:            {"status bar", element.TypeLabel},
	RoleTable:                {"table", element.TypeTable},
	RoleTableCell:            {"table cell", element.TypeDataGridItem},
	RoleTableColumnHeader:    {"table column header", element.TypeDataGridItem},
	RoleTableRowHeader:       {"table row header", element.TypeDataGridItem},
	RoleTearoffMenuItem:      {"tearoff menu item", element.TypeMenuItem},
	RoleTerminal:             {"terminal", element.TypeTextEdit},
	RoleText:                 {"text", element.TypeTextEdit},
	RoleToggleButton:         {"toggle button", element.TypeButton},
	RoleToolBar:              {"tool bar", element.TypePanel},
	RoleToolTip:              {"tool tip", element.TypeLabel},
	RoleTree:                 {"tree", element.TypeTreeView},
	RoleTreeTable:            {"tree table", element.TypeDataGrid},
	RoleUnknown:              {"unknown", element.TypeUnknown},
	RoleViewport:             {"viewport", element.TypePanel},
	RoleWindow:               {"window", element.TypeTopLevel},
	RoleExtended:             {"extended", element.TypeUnknown},
	RoleHeader:               {"header", element.TypePanel},
	RoleFooter:               {"footer", element.TypePanel},
	RoleParagraph:            {"paragraph", element.TypeLabel},
	RoleRuler:                {"ruler", element.TypeSlider},
	RoleApplication:          {"application", element.TypeTopLevel},
	RoleAutocomplete:         {"autocomplete", element.TypeComboBox},
	RoleEditbar:              {"editbar", element.TypeTextEdit},
	RoleEmbedded:             {"embedded", element.TypePanel},
	RoleEntry:                {"entry", element.TypeTextEdit},
	RoleChart:                {"chart", element.TypeImage},
	RoleCaption:              {"caption", element.TypeLabel},
	RoleDocumentFrame:        {"document frame", element.TypeDocument},
	RoleHeading:              {"heading", element.TypeLabel},
	RolePage:                 {"page", element.TypeDocument},
	RoleSection:              {"section", element.TypePanel},
	RoleRedundantObject:      {"redundant object", element.TypeUnknown},
	RoleForm:                 {"form", element.TypePanel},
	RoleLink:                 {"link", element.TypeHyperlink},
	RoleInputMethodWindow:    {"input method window", element.TypeTopLevel},
	RoleTableRow:             {"table row", element.TypeTableRow},
	RoleTreeItem:             {"tree item", element.TypeTreeViewItem},
	RoleDocumentSpreadsheet:  {"document spreadsheet", element.TypeDocument},
	RoleDocumentPresentation: {"document presentation", element.TypeDocument},
	RoleDocumentText:         {"document text", element.TypeDocument},
	RoleDocumentWeb:          {"document web", element.TypeDocument},
	RoleDocumentEmail:        {"document email", element.TypeDocument},
	RoleComment:              {"comment", element.TypeLabel},
	RoleListBox:              {"list box", element.TypeListView},
	RoleGrouping:             {"grouping", element.TypePanel},
	RoleImageMap:             {"image map", element.TypeImage},
	RoleNotification:         {"notification", element.TypePanel},
	RoleInfoBar:              {"info bar", element.TypePanel},
	RoleLevelBar:             {"level bar", element.TypeProgressBar},
	RoleTitleBar:             {"title bar", element.TypeLabel},
	RoleBlockQuote:           {"block quote", element.TypePanel},
	RoleAudio:                {"audio", element.TypeUnknown},
	RoleVideo:                {"video", element.TypeImage},
	RoleDefinition:           {"definition", element.TypeLabel},
	RoleArticle:              {"article", element.TypePanel},
	RoleLandmark:             {"landmark", element.TypePanel},
	RoleLog:                  {"log", element.TypePanel},
	RoleMarquee:              {"marquee", element.TypeLabel},
	RoleMath:                 {"math", element.TypeLabel},
	RoleRating:               {"rating", element.TypeSlider},
	RoleTimer:                {"timer", element.TypeLabel},
	RoleStatic:               {"static", element.TypeLabel},
	RoleMathFraction:         {"math fraction", element.TypeLabel},
	RoleMathRoot:             {"math root", element.TypeLabel},
	RoleSubscript:            {"subscript", element.TypeLabel},
	RoleSuperscript:          {"superscript", element.TypeLabel},
	RoleDescriptionList:      {"description list", element.TypeListView},
	RoleDescriptionTerm:      {"description term", element.TypeLabel},
	RoleDescriptionValue:     {"description value", element.TypeLabel},
	RoleFootnote:             {"footnote", element.TypeLabel},
	RoleContentDeletion:      {"content deletion", element.TypeLabel},
	RoleContentInsertion:     {"content insertion", element.TypeLabel},
	RoleMark:                 {"mark", element.TypeLabel},
	RoleSuggestion:           {"suggestion", element.TypeLabel},
	RolePushButtonMenu:       {"push button menu", element.TypeButton},
	RoleSwitch:               {"switch", element.TypeCheckBox},
}

// TypeForRole maps a role to an element type. Unknown codes map to
// TypeUnknown.
func TypeForRole(r Role) element.Type {
	if r >= roleCount {
		return element.TypeUnknown
	}
	return roleTable[r].typ
}

func (r Role) String() string {
	if r >= roleCount || roleTable[r].name == "" {
		return fmt.Sprintf("role(%d)", uint32(r))
	}
	return roleTable[r].name
}

// isTextRole reports roles whose text is editable unless the node says
// otherwise.
func isTextRole(r Role) bool {
	switch r {
	case RoleText, RoleEntry, RolePasswordText, RoleTerminal, RoleEditbar,
		RoleAutocomplete, RoleDateEditor, RoleParagraph,
		RoleDocumentText, RoleDocumentWeb, RoleDocumentEmail, RoleDocumentFrame:
		return true
	}
	return false
}
