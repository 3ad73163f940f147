package i18n

// Catalog keys. Every locale file defines all of them.
const (
	AlertLoginFailed        = "alert.login_failed"
	AlertLoginError         = "alert.login_error"
	AlertRegisterFailed     = "alert.register_failed"
	AlertRegisterError      = "alert.register_error"
	AlertGroupCreated       = "alert.group_created"
	AlertGroupCreateFailed  = "alert.group_create_failed"
	AlertGroupCreateError   = "alert.group_create_error"
	AlertMemberKicked       = "alert.member_kicked"
	AlertKickFailed         = "alert.kick_failed"
	AlertKickError          = "alert.kick_error"
	AlertKickNotOwner       = "alert.kick_not_owner"
	AlertKickSelf           = "alert.kick_self"
	AlertSelectGroupFirst   = "alert.select_group_first"
	AlertNoInviteCandidates = "alert.no_invite_candidates"
	AlertLoadUsersFailed    = "alert.load_users_failed"
	AlertDirectNoInvite     = "alert.direct_no_invite"
	AlertMemberInvited      = "alert.member_invited"
	AlertInviteFailed       = "alert.invite_failed"
	AlertInviteError        = "alert.invite_error"

	NoticeUserOnline     = "notice.user_online"
	NoticeUserOffline    = "notice.user_offline"
	NoticeOfflineBacklog = "notice.offline_backlog"

	ViewTitleDirect    = "view.title_direct"
	ViewTitleGroup     = "view.title_group"
	ViewNoConversation = "view.no_conversation"
	ViewSelf           = "view.self"
	ViewOnline         = "view.online"
	ViewOffline        = "view.offline"
	ViewOwner          = "view.owner"
)
