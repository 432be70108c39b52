// Package gridbase is the client SDK for a gridbase backend project. It
// bundles three coupled concerns behind one Client:
//
//   - session management: sign-up, sign-in, sign-out and token refresh,
//     with concurrent refresh calls coalesced into a single network
//     round-trip (pkg/auth, pkg/credentials)
//   - queries: an immutable fluent builder that compiles to a query
//     descriptor and executes over the REST interface (pkg/query)
//   - realtime: change-notification subscriptions multiplexed over one
//     websocket connection, with automatic reconnection and
//     re-registration (pkg/realtime)
//
// All three share the client's credential store, so a sign-in immediately
// authenticates subsequent queries and realtime registrations.
//
// A minimal session:
//
//	client, err := gridbase.New(gridbase.Config{
//		BaseURL: "https://myproject.example.com",
//		APIKey:  os.Getenv("GRIDBASE_API_KEY"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close(context.Background())
//
//	if _, err := client.Auth().SignIn(ctx, email, password); err != nil {
//		log.Fatal(err)
//	}
//
//	rows, err := client.From("posts").
//		Select("id", "title").
//		Eq("is_published", true).
//		Order("created_at", query.Descending).
//		Limit(20).
//		Execute(ctx)
package gridbase
