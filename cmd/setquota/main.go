// Copyright 2025 The Stratum Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main contains the implementation and entry point for the setquota
// command, which writes quota policy rows to an etcd or Redis backed policy
// store.
//
// Example usage:
// $ ./setquota \
//     --backend=etcd \
//     --etcd_servers=host:port \
//     --scope=user --user=alice \
//     --throttles=request_num=6:1m
//
// $ ./setquota \
//     --backend=redis \
//     --redis_server=host:port \
//     --scope=table --table=prod:events \
//     --remove
//
// Tablet servers pick the change up on their next cache refresh; both
// backends additionally notify watching servers so the refresh happens
// promptly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis"
	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/klog/v2"

	"github.com/stratumdb/stratum/quota"
	"github.com/stratumdb/stratum/quota/policy"
	"github.com/stratumdb/stratum/quota/policy/etcdps"
	"github.com/stratumdb/stratum/quota/policy/redisps"
)

var (
	backend     = flag.String("backend", "etcd", "Policy store backend to write to. One of: etcd, redis")
	etcdServers = flag.String("etcd_servers", "", "Comma-separated list of etcd servers (host:port)")
	etcdPrefix  = flag.String("etcd_prefix", etcdps.DefaultPrefix, "Key prefix of the etcd policy store")
	redisServer = flag.String("redis_server", "", "Redis server (host:port)")
	redisPrefix = flag.String("redis_prefix", redisps.DefaultPrefix, "Key prefix of the Redis policy store")
	redisChan   = flag.String("redis_channel", redisps.DefaultChannel, "Pub/sub channel for update notifications")

	scope        = flag.String("scope", "", "Subject scope. One of: namespace, table, user, usertable")
	namespace    = flag.String("namespace", "", "Namespace, for --scope=namespace")
	table        = flag.String("table", "", "Table as namespace:table, for --scope=table or --scope=usertable")
	user         = flag.String("user", "", "User, for --scope=user or --scope=usertable")
	throttles    = flag.String("throttles", "", "Comma-separated limits as dimension=limit:period, e.g. request_num=6:1m,read_num=100:1s")
	globalBypass = flag.Bool("global_bypass", false, "Exempt the user from all quota enforcement (--scope=user only)")
	remove       = flag.Bool("remove", false, "Remove the subject's policy row instead of writing one")

	timeout = flag.Duration("timeout", 5*time.Second, "Deadline for the backend write")
)

// setOpts contains all user-supplied options required to run the program.
// It's meant to facilitate tests and focus flag reads to a single point.
type setOpts struct {
	scope, namespace, table, user string
	throttles                     string
	globalBypass                  bool
	remove                        bool
}

func newOptsFromFlags() *setOpts {
	return &setOpts{
		scope:        *scope,
		namespace:    *namespace,
		table:        *table,
		user:         *user,
		throttles:    *throttles,
		globalBypass: *globalBypass,
		remove:       *remove,
	}
}

func parseSubject(opts *setOpts) (quota.Subject, error) {
	var s quota.Subject
	switch opts.scope {
	case quota.Namespace.String():
		s = quota.NamespaceSubject(opts.namespace)
	case quota.Table.String():
		s = quota.TableSubject(opts.table)
	case quota.User.String():
		s = quota.UserSubject(opts.user)
	case quota.UserTable.String():
		s = quota.UserTableSubject(opts.user, opts.table)
	default:
		return s, fmt.Errorf("unknown --scope: %q", opts.scope)
	}
	return s, s.Validate()
}

// parseThrottles parses the --throttles syntax, e.g.
// "request_num=6:1m,read_num=100:1s".
func parseThrottles(spec string) (map[quota.Dimension]quota.Throttle, error) {
	if spec == "" {
		return nil, nil
	}
	out := make(map[quota.Dimension]quota.Throttle)
	for _, part := range strings.Split(spec, ",") {
		name, lim, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed throttle %q, want dimension=limit:period", part)
		}
		d, err := quota.ParseDimension(name)
		if err != nil {
			return nil, err
		}
		if _, dup := out[d]; dup {
			return nil, fmt.Errorf("duplicate throttle for %v", d)
		}
		limitStr, periodStr, ok := strings.Cut(lim, ":")
		if !ok {
			return nil, fmt.Errorf("malformed throttle %q, want dimension=limit:period", part)
		}
		limit, err := strconv.ParseInt(limitStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed limit in %q: %v", part, err)
		}
		period, err := time.ParseDuration(periodStr)
		if err != nil {
			return nil, fmt.Errorf("malformed period in %q: %v", part, err)
		}
		t := quota.Throttle{Limit: limit, Period: period}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("invalid throttle in %q: %v", part, err)
		}
		out[d] = t
	}
	return out, nil
}

// buildRow assembles and validates the policy row described by opts.
func buildRow(opts *setOpts) (policy.Row, error) {
	subject, err := parseSubject(opts)
	if err != nil {
		return policy.Row{}, err
	}
	ts, err := parseThrottles(opts.throttles)
	if err != nil {
		return policy.Row{}, err
	}
	row := policy.Row{Subject: subject, Throttles: ts, GlobalBypass: opts.globalBypass}
	if err := row.Validate(); err != nil {
		return policy.Row{}, err
	}
	if !opts.remove && len(row.Throttles) == 0 && !row.GlobalBypass && subject.Scope != quota.UserTable {
		return policy.Row{}, errors.New("row defines no throttles; use --remove to delete a policy")
	}
	return row, nil
}

func writeEtcd(ctx context.Context, row policy.Row, rm bool) error {
	if *etcdServers == "" {
		return errors.New("empty --etcd_servers, please provide etcd host:port list")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(*etcdServers, ","),
		DialTimeout: *timeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			klog.Warningf("Error closing etcd client: %v", err)
		}
	}()

	key := *etcdPrefix + row.Subject.Name()
	if rm {
		_, err := client.Delete(ctx, key)
		return err
	}
	data, err := policy.EncodeRow(row)
	if err != nil {
		return err
	}
	_, err = client.Put(ctx, key, string(data))
	return err
}

func writeRedis(ctx context.Context, row policy.Row, rm bool) error {
	if *redisServer == "" {
		return errors.New("empty --redis_server, please provide Redis host:port")
	}
	client := redis.NewClient(&redis.Options{Addr: *redisServer})
	defer func() {
		if err := client.Close(); err != nil {
			klog.Warningf("Error closing Redis client: %v", err)
		}
	}()

	key := *redisPrefix + row.Subject.Name()
	if rm {
		if err := client.Del(key).Err(); err != nil {
			return err
		}
	} else {
		data, err := policy.EncodeRow(row)
		if err != nil {
			return err
		}
		if err := client.Set(key, string(data), 0).Err(); err != nil {
			return err
		}
	}
	// Nudge watching tablet servers. Best effort: the periodic refresh
	// picks the change up regardless.
	if err := client.Publish(*redisChan, row.Subject.Name()).Err(); err != nil {
		klog.Warningf("Policy written but notification failed: %v", err)
	}
	return nil
}

func main() {
	flag.Parse()
	defer klog.Flush()

	opts := newOptsFromFlags()
	row, err := buildRow(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setquota: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *backend {
	case "etcd":
		err = writeEtcd(ctx, row, opts.remove)
	case "redis":
		err = writeRedis(ctx, row, opts.remove)
	default:
		err = fmt.Errorf("unknown --backend: %q", *backend)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "setquota: %v\n", err)
		os.Exit(1)
	}
	if opts.remove {
		fmt.Printf("removed policy for %v\n", row.Subject)
	} else {
		fmt.Printf("set policy for %v\n", row.Subject)
	}
}
