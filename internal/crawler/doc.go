// Package crawler holds the domain model shared by every part of the seed
// catalog crawler: crawl jobs and their status machine, vendors, products,
// queue tasks, the error taxonomy and the store/queue/fetcher contracts.
package crawler
