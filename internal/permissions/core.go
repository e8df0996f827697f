package permissions

// Permission identifiers used by the HTTP layer.
const (
	NotificationPublish = "notification.publish"
	PreferenceManage    = "preference.manage"
	TemplateView        = "template.view"
	TemplateManage      = "template.manage"
	AuditView           = "audit.view"
)

func init() {
	perms := []*Permission{
		{
			ID:          NotificationPublish,
			Module:      "notifications",
			Description: "Author, inspect, and withdraw scheduled notifications",
		},
		{
			ID:          PreferenceManage,
			Module:      "preferences",
			Description: "Read and replace delivery preferences of other recipients",
		},
		{
			ID:          TemplateView,
			Module:      "templates",
			Description: "View notification templates",
		},
		{
			ID:          TemplateManage,
			Module:      "templates",
			DependsOn:   []string{TemplateView},
			Description: "Create, update, and delete notification templates",
		},
		{
			ID:          AuditView,
			Module:      "audit",
			Description: "View the producer and operator audit trail",
		},
	}

	for _, perm := range perms {
		if err := Register(perm); err != nil {
			panic(err)
		}
	}

	if err := ValidateDependencies(); err != nil {
		panic(err)
	}
}
