// Package splitsearch is a Go client for the splitsearch REST API.
//
// A node answers searches over the published splits of an index, streams the values of
// one fast field, and lists the terms of an indexed field:
//
//	client, _ := splitsearch.New("http://localhost:8080", splitsearch.WithAPIKey(key))
//	resp, _ := client.Search(ctx, "logs", &splitsearch.SearchRequest{
//	    Query:       "body:error",
//	    MaxHits:     10,
//	    SortByField: splitsearch.Ptr("ts"),
//	})
//
//	stream, _ := client.SearchStream(ctx, "logs", &splitsearch.SearchStreamRequest{
//	    Query:     "*",
//	    FastField: "latency",
//	})
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Println(stream.Row().Value)
//	}
//	if err := stream.Err(); err != nil { ... }
//	failed := stream.SplitErrors()
//
// Failures of single splits do not fail a call: searches report them in
// SearchResponse.Errors and streams in SplitErrors once the body is drained.
package splitsearch
